package vmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

func TestBuildDomain(t *testing.T) {
	spec := DomainSpec{
		Name:      "sway-test",
		MemoryMiB: 2048,
		CPUs:      2,
		DiskPath:  "/var/lib/vitrine/vms/sway-test/overlay.qcow2",
		SeedPath:  "/var/lib/vitrine/vms/sway-test/seed.iso",
		Network:   "testnet",
	}

	xmlStr, err := buildDomain(spec).Marshal()
	require.NoError(t, err)
	require.NotEmpty(t, xmlStr)

	// Parse XML to verify structure
	var domain libvirtxml.Domain
	err = domain.Unmarshal(xmlStr)
	require.NoError(t, err)

	// Verify name and sizing
	assert.Equal(t, "vitrine-sway-test", domain.Name)
	assert.Equal(t, "kvm", domain.Type)
	assert.Equal(t, uint(2048), domain.Memory.Value)
	assert.Equal(t, "MiB", domain.Memory.Unit)
	assert.Equal(t, uint(2), domain.VCPU.Value)

	// Verify machine type and boot order
	require.NotNil(t, domain.OS)
	require.NotNil(t, domain.OS.Type)
	assert.Equal(t, "x86_64", domain.OS.Type.Arch)
	assert.Equal(t, "q35", domain.OS.Type.Machine)
	assert.Equal(t, "hvm", domain.OS.Type.Type)
	require.Len(t, domain.OS.BootDevices, 1)
	assert.Equal(t, "hd", domain.OS.BootDevices[0].Dev)

	// Verify guest features
	require.NotNil(t, domain.Features)
	assert.NotNil(t, domain.Features.ACPI)
	assert.NotNil(t, domain.Features.APIC)

	// Verify overlay disk and seed cdrom
	require.NotNil(t, domain.Devices)
	require.Len(t, domain.Devices.Disks, 2)

	overlay := domain.Devices.Disks[0]
	assert.Equal(t, "disk", overlay.Device)
	require.NotNil(t, overlay.Driver)
	assert.Equal(t, "qcow2", overlay.Driver.Type)
	require.NotNil(t, overlay.Source)
	require.NotNil(t, overlay.Source.File)
	assert.Equal(t, spec.DiskPath, overlay.Source.File.File)
	require.NotNil(t, overlay.Target)
	assert.Equal(t, "vda", overlay.Target.Dev)
	assert.Equal(t, "virtio", overlay.Target.Bus)
	assert.Nil(t, overlay.ReadOnly)

	seed := domain.Devices.Disks[1]
	assert.Equal(t, "cdrom", seed.Device)
	require.NotNil(t, seed.Driver)
	assert.Equal(t, "raw", seed.Driver.Type)
	require.NotNil(t, seed.Source)
	require.NotNil(t, seed.Source.File)
	assert.Equal(t, spec.SeedPath, seed.Source.File.File)
	require.NotNil(t, seed.Target)
	assert.Equal(t, "sda", seed.Target.Dev)
	assert.Equal(t, "sata", seed.Target.Bus)
	assert.NotNil(t, seed.ReadOnly)

	// Verify network interface
	require.Len(t, domain.Devices.Interfaces, 1)
	iface := domain.Devices.Interfaces[0]
	require.NotNil(t, iface.Source)
	require.NotNil(t, iface.Source.Network)
	assert.Equal(t, "testnet", iface.Source.Network.Network)
	require.NotNil(t, iface.Model)
	assert.Equal(t, "virtio", iface.Model.Type)

	// Verify SPICE display bound to loopback
	require.Len(t, domain.Devices.Graphics, 1)
	spice := domain.Devices.Graphics[0].Spice
	require.NotNil(t, spice)
	assert.Equal(t, "yes", spice.AutoPort)
	assert.Equal(t, "127.0.0.1", spice.Listen)

	// Verify virtio video head
	require.Len(t, domain.Devices.Videos, 1)
	assert.Equal(t, "virtio", domain.Devices.Videos[0].Model.Type)

	// Verify SPICE agent channel
	require.Len(t, domain.Devices.Channels, 1)
	channel := domain.Devices.Channels[0]
	require.NotNil(t, channel.Source)
	assert.NotNil(t, channel.Source.SpiceVMC)
	require.NotNil(t, channel.Target)
	require.NotNil(t, channel.Target.VirtIO)
	assert.Equal(t, "com.redhat.spice.0", channel.Target.VirtIO.Name)

	// Verify serial console
	require.Len(t, domain.Devices.Serials, 1)
	require.NotNil(t, domain.Devices.Serials[0].Source)
	assert.NotNil(t, domain.Devices.Serials[0].Source.Pty)
	require.Len(t, domain.Devices.Consoles, 1)
	require.NotNil(t, domain.Devices.Consoles[0].Target)
	assert.Equal(t, "serial", domain.Devices.Consoles[0].Target.Type)
}

func TestBuildDomain_DefaultNetwork(t *testing.T) {
	spec := DomainSpec{
		Name:      "plain",
		MemoryMiB: 1024,
		CPUs:      1,
		DiskPath:  "/tmp/overlay.qcow2",
		SeedPath:  "/tmp/seed.iso",
	}

	xmlStr, err := buildDomain(spec).Marshal()
	require.NoError(t, err)

	var domain libvirtxml.Domain
	err = domain.Unmarshal(xmlStr)
	require.NoError(t, err)

	require.Len(t, domain.Devices.Interfaces, 1)
	require.NotNil(t, domain.Devices.Interfaces[0].Source)
	require.NotNil(t, domain.Devices.Interfaces[0].Source.Network)
	assert.Equal(t, "default", domain.Devices.Interfaces[0].Source.Network.Network)
}

func TestDomainName(t *testing.T) {
	assert.Equal(t, "vitrine-sway-test", DomainName("sway-test"))
}

func TestStateOf(t *testing.T) {
	tests := []struct {
		in   libvirt.DomainState
		want State
	}{
		{libvirt.DOMAIN_RUNNING, StateRunning},
		{libvirt.DOMAIN_BLOCKED, StateBlocked},
		{libvirt.DOMAIN_PAUSED, StatePaused},
		{libvirt.DOMAIN_SHUTDOWN, StateShuttingDown},
		{libvirt.DOMAIN_SHUTOFF, StateShutOff},
		{libvirt.DOMAIN_CRASHED, StateCrashed},
		{libvirt.DOMAIN_PMSUSPENDED, StateSuspended},
		{libvirt.DOMAIN_NOSTATE, StateUnknown},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, stateOf(tc.in), "state %d", tc.in)
	}
}
