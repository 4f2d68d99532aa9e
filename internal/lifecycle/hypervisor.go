package lifecycle

import (
	"context"

	"github.com/vitrinehq/vitrine/pkg/vmm"
)

// Hypervisor is the backend the controller drives domains through.
// Implementations answer every call in a single shot; retry and
// backoff policy belongs to the controller.
type Hypervisor interface {
	// EnsureNetwork makes sure the named network exists and is active,
	// so a freshly created domain can lease an address from it.
	EnsureNetwork(ctx context.Context, name string) error

	// CreateDomain defines and starts a domain. A name collision is an
	// error; nothing may be left defined when it fails.
	CreateDomain(ctx context.Context, spec vmm.DomainSpec) error

	// DomainExists reports whether the domain is defined at all.
	DomainExists(ctx context.Context, vmName string) (bool, error)

	// DomainState reports the domain's lifecycle state.
	DomainState(ctx context.Context, vmName string) (vmm.State, error)

	// DomainAddress returns the guest's IPv4 lease address, or an error
	// wrapping vmm.ErrNoAddress while no lease exists yet.
	DomainAddress(ctx context.Context, vmName string) (string, error)

	// GraphicsPort returns the bound local display port, or an error
	// wrapping vmm.ErrNoGraphicsPort.
	GraphicsPort(ctx context.Context, vmName string) (int, error)

	// DestroyDomain force-stops and undefines the domain; absent
	// domains are a no-op.
	DestroyDomain(ctx context.Context, vmName string) error

	CreateSnapshot(ctx context.Context, vmName, snapName string) error
	RevertSnapshot(ctx context.Context, vmName, snapName string) error
	ListSnapshots(ctx context.Context, vmName string) ([]string, error)
}

var _ Hypervisor = (*vmm.Manager)(nil)
