// Package vmm is the libvirt hypervisor backend: it defines and starts
// guest domains from a DomainSpec, answers state/lease/graphics-port
// queries, manages domain snapshots, and tears domains down
// idempotently. All polling and retry policy lives with the caller;
// every query here is a single shot.
package vmm

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"libvirt.org/go/libvirt"
)

// DefaultURI targets the system libvirt daemon, where the default NAT
// network and its DHCP leases live.
const DefaultURI = "qemu:///system"

// domainPrefix namespaces vitrine-owned domains so `virsh list` output
// stays legible next to unrelated guests.
const domainPrefix = "vitrine-"

var (
	ErrConnect          = errors.New("unable to connect to libvirt")
	ErrDomainExists     = errors.New("domain already exists")
	ErrDomainNotFound   = errors.New("domain not found")
	ErrNetworkNotFound  = errors.New("network not found")
	ErrNoAddress        = errors.New("domain has no lease address yet")
	ErrNoGraphicsPort   = errors.New("domain has no graphics port assigned")
	ErrSnapshotExists   = errors.New("snapshot already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// DomainName returns the libvirt domain name for a VM name.
func DomainName(vmName string) string {
	return domainPrefix + vmName
}

// Manager performs domain operations over one libvirt connection. It
// is safe for sequential use by a single lifecycle controller; libvirt
// serializes concurrent API calls on the connection itself.
type Manager struct {
	conn   *libvirt.Connect
	logger *slog.Logger
}

// NewManager connects to the libvirt daemon at uri. An empty uri means
// DefaultURI.
func NewManager(uri string, logger *slog.Logger) (*Manager, error) {
	if uri == "" {
		uri = DefaultURI
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, uri, err)
	}

	logger.Debug("connected to libvirt", "uri", uri)

	return &Manager{conn: conn, logger: logger}, nil
}

// Close releases the libvirt connection. Safe to call twice.
func (m *Manager) Close() error {
	if m.conn == nil {
		return nil
	}

	_, err := m.conn.Close()
	m.conn = nil
	if err != nil {
		return fmt.Errorf("unable to close libvirt connection: %w", err)
	}

	return nil
}

// lookup resolves a VM name to its live domain handle. The caller owns
// the returned domain and must Free it.
func (m *Manager) lookup(vmName string) (*libvirt.Domain, error) {
	name := DomainName(vmName)

	dom, err := m.conn.LookupDomainByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ERR_NO_DOMAIN) {
			return nil, fmt.Errorf("%w: %s", ErrDomainNotFound, name)
		}

		return nil, fmt.Errorf("unable to look up domain %s: %w", name, err)
	}

	return dom, nil
}

// isLibvirtError reports whether err is a libvirt error carrying one of
// the given codes.
func isLibvirtError(err error, codes ...libvirt.ErrorNumber) bool {
	var libvirtError libvirt.Error
	if !errors.As(err, &libvirtError) {
		return false
	}

	return slices.Contains(codes, libvirtError.Code)
}
