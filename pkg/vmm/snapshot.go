package vmm

import (
	"context"
	"fmt"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// CreateSnapshot takes a named point-in-time snapshot of the domain.
// Running domains get a full system checkpoint (memory and disk), so a
// later revert resumes execution where the snapshot was taken.
// Duplicate names are rejected with ErrSnapshotExists.
func (m *Manager) CreateSnapshot(ctx context.Context, vmName, snapName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return err
	}
	defer dom.Free()

	if existing, err := dom.SnapshotLookupByName(snapName, 0); err == nil {
		existing.Free()
		return fmt.Errorf("%w: %s", ErrSnapshotExists, snapName)
	}

	snapXML, err := (&libvirtxml.DomainSnapshot{Name: snapName}).Marshal()
	if err != nil {
		return fmt.Errorf("unable to marshal snapshot XML for %s: %w", snapName, err)
	}

	snap, err := dom.CreateSnapshotXML(snapXML, 0)
	if err != nil {
		return fmt.Errorf("unable to create snapshot %s of domain %s: %w",
			snapName, DomainName(vmName), err)
	}
	snap.Free()

	m.logger.Info("snapshot created", "vmName", vmName, "snapshot", snapName)

	return nil
}

// RevertSnapshot rewinds the domain to a named snapshot. The guest's
// address and readiness are stale afterwards; callers re-verify before
// using the VM.
func (m *Manager) RevertSnapshot(ctx context.Context, vmName, snapName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return err
	}
	defer dom.Free()

	snap, err := dom.SnapshotLookupByName(snapName, 0)
	if err != nil {
		if isLibvirtError(err, libvirt.ERR_NO_DOMAIN_SNAPSHOT) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapName)
		}

		return fmt.Errorf("unable to look up snapshot %s of domain %s: %w",
			snapName, DomainName(vmName), err)
	}
	defer snap.Free()

	if err := snap.RevertToSnapshot(0); err != nil {
		return fmt.Errorf("unable to revert domain %s to snapshot %s: %w",
			DomainName(vmName), snapName, err)
	}

	m.logger.Info("snapshot restored", "vmName", vmName, "snapshot", snapName)

	return nil
}

// ListSnapshots returns the domain's snapshot names in libvirt's
// listing order.
func (m *Manager) ListSnapshots(ctx context.Context, vmName string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dom, err := m.lookup(vmName)
	if err != nil {
		return nil, err
	}
	defer dom.Free()

	snaps, err := dom.ListAllSnapshots(0)
	if err != nil {
		return nil, fmt.Errorf("unable to list snapshots of domain %s: %w", DomainName(vmName), err)
	}

	names := make([]string, 0, len(snaps))
	for i := range snaps {
		name, err := snaps[i].GetName()
		if err == nil {
			names = append(names, name)
		}
		snaps[i].Free()
	}

	return names, nil
}
