package vmm

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// DefaultNetwork is the libvirt NAT network guests attach to unless
// the domain spec names another one.
const DefaultNetwork = "default"

// EnsureNetwork makes sure the named network is defined and active
// before a domain attaches to it. A defined but stopped network is
// started. An absent DefaultNetwork is recreated with the stock NAT
// plus DHCP layout; any other absent name is ErrNetworkNotFound, since
// custom networks must be defined by the host administrator.
func (m *Manager) EnsureNetwork(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if name == "" {
		name = DefaultNetwork
	}

	network, err := m.conn.LookupNetworkByName(name)
	if err != nil {
		if !isLibvirtError(err, libvirt.ERR_NO_NETWORK) {
			return fmt.Errorf("unable to look up network %s: %w", name, err)
		}
		if name != DefaultNetwork {
			return fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
		}
		return m.createDefaultNetwork()
	}
	defer network.Free()

	active, err := network.IsActive()
	if err != nil {
		return fmt.Errorf("unable to check network %s: %w", name, err)
	}
	if active {
		return nil
	}

	if err := network.Create(); err != nil {
		return fmt.Errorf("unable to start network %s: %w", name, err)
	}

	m.logger.Info("network started", "network", name)

	return nil
}

// createDefaultNetwork defines and starts the stock default network:
// NAT on 192.168.122.0/24 with a DHCP range, matching the definition
// libvirt ships. Lease queries depend on that DHCP range.
func (m *Manager) createDefaultNetwork() error {
	xmlDesc, err := buildDefaultNetwork().Marshal()
	if err != nil {
		return fmt.Errorf("unable to marshal network XML: %w", err)
	}

	network, err := m.conn.NetworkDefineXML(xmlDesc)
	if err != nil {
		return fmt.Errorf("unable to define network %s: %w", DefaultNetwork, err)
	}
	defer network.Free()

	if err := network.Create(); err != nil {
		// Roll the definition back so a failed start leaves nothing
		// behind to collide with the next attempt.
		_ = network.Undefine()
		return fmt.Errorf("unable to start network %s: %w", DefaultNetwork, err)
	}

	_ = network.SetAutostart(true)

	m.logger.Info("network created", "network", DefaultNetwork)

	return nil
}

func buildDefaultNetwork() *libvirtxml.Network {
	return &libvirtxml.Network{
		Name: DefaultNetwork,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name: "virbr0",
			STP:  "on",
		},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: "192.168.122.1",
				Netmask: "255.255.255.0",
				DHCP: &libvirtxml.NetworkDHCP{
					Ranges: []libvirtxml.NetworkDHCPRange{
						{Start: "192.168.122.2", End: "192.168.122.254"},
					},
				},
			},
		},
	}
}
