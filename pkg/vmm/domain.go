package vmm

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/utils/ptr"
	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// DomainSpec describes the guest domain to define and start.
type DomainSpec struct {
	// Name is the VM name; the domain itself is named DomainName(Name).
	Name string

	// MemoryMiB and CPUs size the guest.
	MemoryMiB uint
	CPUs      uint

	// DiskPath is the writable qcow2 overlay the guest boots from.
	DiskPath string

	// SeedPath is the cloud-init NoCloud seed ISO, attached read-only.
	SeedPath string

	// Network is the libvirt network name. Empty means DefaultNetwork.
	Network string
}

// State is a coarse domain lifecycle state as reported by libvirt.
type State string

const (
	StateRunning      State = "running"
	StateBlocked      State = "blocked"
	StatePaused       State = "paused"
	StateShuttingDown State = "shutting down"
	StateShutOff      State = "shut off"
	StateCrashed      State = "crashed"
	StateSuspended    State = "suspended"
	StateUnknown      State = "unknown"
)

func stateOf(s libvirt.DomainState) State {
	switch s {
	case libvirt.DOMAIN_RUNNING:
		return StateRunning
	case libvirt.DOMAIN_BLOCKED:
		return StateBlocked
	case libvirt.DOMAIN_PAUSED:
		return StatePaused
	case libvirt.DOMAIN_SHUTDOWN:
		return StateShuttingDown
	case libvirt.DOMAIN_SHUTOFF:
		return StateShutOff
	case libvirt.DOMAIN_CRASHED:
		return StateCrashed
	case libvirt.DOMAIN_PMSUSPENDED:
		return StateSuspended
	default:
		return StateUnknown
	}
}

// buildDomain renders the libvirt domain definition for a spec: a KVM
// q35 guest booting the overlay disk over virtio, the seed ISO on a
// SATA cdrom, NAT networking, and a local SPICE display with a virtio
// video head so the guest compositor has a screen to draw on.
func buildDomain(spec DomainSpec) *libvirtxml.Domain {
	network := spec.Network
	if network == "" {
		network = DefaultNetwork
	}

	return &libvirtxml.Domain{
		Type: "kvm",
		Name: DomainName(spec.Name),
		Memory: &libvirtxml.DomainMemory{
			Value: spec.MemoryMiB,
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Value: spec.CPUs,
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: "q35",
				Type:    "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{{Dev: "hd"}},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "qcow2",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: spec.DiskPath},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "vda",
						Bus: "virtio",
					},
				},
				{
					Device: "cdrom",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "raw",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{File: spec.SeedPath},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "sda",
						Bus: "sata",
					},
					ReadOnly: &libvirtxml.DomainDiskReadOnly{},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{
							Network: network,
						},
					},
					Model: &libvirtxml.DomainInterfaceModel{
						Type: "virtio",
					},
				},
			},
			Graphics: []libvirtxml.DomainGraphic{
				{
					Spice: &libvirtxml.DomainGraphicSpice{
						AutoPort: "yes",
						Listen:   "127.0.0.1",
					},
				},
			},
			Videos: []libvirtxml.DomainVideo{
				{
					Model: libvirtxml.DomainVideoModel{Type: "virtio"},
				},
			},
			Channels: []libvirtxml.DomainChannel{
				{
					Source: &libvirtxml.DomainChardevSource{
						SpiceVMC: &libvirtxml.DomainChardevSourceSpiceVMC{},
					},
					Target: &libvirtxml.DomainChannelTarget{
						VirtIO: &libvirtxml.DomainChannelTargetVirtIO{
							Name: "com.redhat.spice.0",
						},
					},
				},
			},
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: ptr.To(uint(0)),
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: ptr.To(uint(0)),
					},
				},
			},
		},
	}
}

// CreateDomain defines and starts the domain described by spec. A
// domain with the same name already known to libvirt is rejected with
// ErrDomainExists before anything is defined.
func (m *Manager) CreateDomain(ctx context.Context, spec DomainSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := DomainName(spec.Name)

	if existing, err := m.conn.LookupDomainByName(name); err == nil {
		existing.Free()
		return fmt.Errorf("%w: %s", ErrDomainExists, name)
	}

	xmlDesc, err := buildDomain(spec).Marshal()
	if err != nil {
		return fmt.Errorf("unable to marshal domain XML for %s: %w", name, err)
	}

	dom, err := m.conn.DomainDefineXML(xmlDesc)
	if err != nil {
		return fmt.Errorf("unable to define domain %s: %w", name, err)
	}
	defer dom.Free()

	if err := dom.Create(); err != nil {
		// Roll the definition back so a failed start leaves nothing
		// behind to collide with the next attempt.
		_ = dom.Undefine()
		return fmt.Errorf("unable to start domain %s: %w", name, err)
	}

	m.logger.Info("domain started", "vmName", spec.Name, "domain", name)

	return nil
}

// DomainExists reports whether the domain for vmName is defined,
// running or not.
func (m *Manager) DomainExists(ctx context.Context, vmName string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	dom, err := m.conn.LookupDomainByName(DomainName(vmName))
	if err != nil {
		if isLibvirtError(err, libvirt.ERR_NO_DOMAIN) {
			return false, nil
		}

		return false, fmt.Errorf("unable to look up domain %s: %w", DomainName(vmName), err)
	}
	dom.Free()

	return true, nil
}

// DomainState returns the current lifecycle state of the domain.
func (m *Manager) DomainState(ctx context.Context, vmName string) (State, error) {
	if err := ctx.Err(); err != nil {
		return StateUnknown, err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return StateUnknown, err
	}
	defer dom.Free()

	state, _, err := dom.GetState()
	if err != nil {
		return StateUnknown, fmt.Errorf("unable to get state of domain %s: %w", DomainName(vmName), err)
	}

	return stateOf(state), nil
}

// DomainAddress returns the guest's first IPv4 DHCP lease address.
// ErrNoAddress means no lease has appeared yet; the caller decides
// whether and when to retry.
func (m *Manager) DomainAddress(ctx context.Context, vmName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return "", err
	}
	defer dom.Free()

	ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
	if err != nil {
		// The lease table is not queryable until the guest network
		// comes up; treat that the same as an empty table.
		return "", fmt.Errorf("%w: %v", ErrNoAddress, err)
	}

	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type == libvirt.IP_ADDR_TYPE_IPV4 {
				return strings.Split(addr.Addr, "/")[0], nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrNoAddress, DomainName(vmName))
}

// GraphicsPort returns the SPICE port libvirt assigned when the domain
// started. ErrNoGraphicsPort means the domain has no bound SPICE
// display, which usually means it is not running.
func (m *Manager) GraphicsPort(ctx context.Context, vmName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return 0, err
	}
	defer dom.Free()

	xmlDesc, err := dom.GetXMLDesc(0)
	if err != nil {
		return 0, fmt.Errorf("unable to get XML of domain %s: %w", DomainName(vmName), err)
	}

	var domXML libvirtxml.Domain
	if err := domXML.Unmarshal(xmlDesc); err != nil {
		return 0, fmt.Errorf("unable to parse XML of domain %s: %w", DomainName(vmName), err)
	}

	if domXML.Devices != nil {
		for _, graphics := range domXML.Devices.Graphics {
			if graphics.Spice != nil && graphics.Spice.Port > 0 {
				return graphics.Spice.Port, nil
			}
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrNoGraphicsPort, DomainName(vmName))
}

// DestroyDomain force-stops the domain and undefines it together with
// its snapshot metadata. Destroying an absent domain succeeds.
func (m *Manager) DestroyDomain(ctx context.Context, vmName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := DomainName(vmName)

	dom, err := m.conn.LookupDomainByName(name)
	if err != nil {
		if isLibvirtError(err, libvirt.ERR_NO_DOMAIN) {
			m.logger.Debug("domain already gone", "domain", name)
			return nil
		}

		return fmt.Errorf("unable to look up domain %s: %w", name, err)
	}
	defer dom.Free()

	state, _, err := dom.GetState()
	if err == nil && state == libvirt.DOMAIN_RUNNING {
		if err := dom.Destroy(); err != nil && !isLibvirtError(err, libvirt.ERR_NO_DOMAIN, libvirt.ERR_OPERATION_INVALID) {
			return fmt.Errorf("unable to stop domain %s: %w", name, err)
		}
	}

	if err := dom.UndefineFlags(libvirt.DOMAIN_UNDEFINE_SNAPSHOTS_METADATA); err != nil {
		// Older hypervisors reject the flag; retry the plain form.
		if err := dom.Undefine(); err != nil && !isLibvirtError(err, libvirt.ERR_NO_DOMAIN) {
			return fmt.Errorf("unable to undefine domain %s: %w", name, err)
		}
	}

	m.logger.Info("domain destroyed", "vmName", vmName, "domain", name)

	return nil
}
