// Package lifecycle drives a VM from manifest to Ready and back down:
// image resolution, overlay and seed preparation, domain creation,
// lease and shell readiness polling, guest provisioning, snapshots,
// and idempotent teardown. It owns all retry policy; the hypervisor
// and session layers underneath answer single calls.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/vitrinehq/vitrine/internal/manifest"
	"github.com/vitrinehq/vitrine/internal/remote"
	"github.com/vitrinehq/vitrine/pkg/cloudinit"
	"github.com/vitrinehq/vitrine/pkg/vmm"
)

// provisionTimeout bounds the cloud-init wait. First-boot package
// installation dominates it.
const provisionTimeout = 10 * time.Minute

// DefaultBaseDir returns the root for all host-side VM state:
// $XDG_CACHE_HOME/vitrine, falling back to ~/.cache/vitrine.
func DefaultBaseDir() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to locate cache directory: %w", err)
	}
	return filepath.Join(cache, "vitrine"), nil
}

// Config assembles a Controller.
type Config struct {
	// BaseDir roots the host state: workdirs under <BaseDir>/vms/<name>
	// and the image cache under <BaseDir>/images.
	BaseDir string

	Hypervisor Hypervisor

	// KeyPath pins the SSH private key. Empty means discover one under
	// ~/.ssh at up time.
	KeyPath string

	// Lease and SSH bound the readiness polls; zero values take the
	// package defaults.
	Lease Backoff
	SSH   Backoff

	Logger *slog.Logger
	Clock  clock.Clock

	// NewSession builds the remote session for a booted guest.
	NewSession func(remote.Config) remote.Session
}

// Controller owns VM lifecycles under one base directory.
type Controller struct {
	baseDir    string
	hv         Hypervisor
	keyPath    string
	lease      Backoff
	ssh        Backoff
	logger     *slog.Logger
	clock      clock.Clock
	newSession func(remote.Config) remote.Session

	// Host tooling side effects, stubbed in tests.
	createOverlay func(ctx context.Context, base, overlay string, sizeGiB int) error
	grantAccess   func(*slog.Logger, string)
}

// NewController validates cfg and builds a Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("lifecycle: BaseDir is required")
	}
	if cfg.Hypervisor == nil {
		return nil, errors.New("lifecycle: Hypervisor is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	newSession := cfg.NewSession
	if newSession == nil {
		newSession = func(rc remote.Config) remote.Session { return remote.NewClient(rc) }
	}

	return &Controller{
		baseDir:       cfg.BaseDir,
		hv:            cfg.Hypervisor,
		keyPath:       cfg.KeyPath,
		lease:         cfg.Lease.orDefault(DefaultLeaseBackoff()),
		ssh:           cfg.SSH.orDefault(DefaultSSHBackoff()),
		logger:        logger,
		clock:         clk,
		newSession:    newSession,
		createOverlay: vmm.CreateOverlay,
		grantAccess:   vmm.GrantQEMUAccess,
	}, nil
}

func (c *Controller) workdir(name string) string {
	return filepath.Join(c.baseDir, "vms", name)
}

func (c *Controller) imagesDir() string {
	return filepath.Join(c.baseDir, "images")
}

// Up boots a VM from its manifest and returns a Ready handle: base
// image resolved, overlay and seed prepared, domain started, address
// leased, shell reachable, guest provisioned. Any failure past
// resource allocation tears the partial VM down before returning.
func (c *Controller) Up(ctx context.Context, vm *manifest.VM) (handle *Handle, err error) {
	name := vm.VM.Name
	workdir := c.workdir(name)

	exists, err := c.hv.DomainExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: domain %s", ErrVMExists, vmm.DomainName(name))
	}
	if _, err := os.Stat(filepath.Join(workdir, stateFile)); err == nil {
		return nil, fmt.Errorf("%w: working directory %s", ErrVMExists, workdir)
	}

	keyPath := c.keyPath
	if keyPath == "" {
		if keyPath, err = remote.DiscoverKey(); err != nil {
			return nil, err
		}
	}
	publicKey, err := remote.PublicKey(keyPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create working directory: %w", err)
	}

	// Past this point partial resources exist. A failed or cancelled
	// boot tears them down before the error propagates.
	defer func() {
		if err == nil {
			return
		}
		if derr := c.Destroy(context.WithoutCancel(ctx), name); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	image, err := c.resolveImage(ctx, vm)
	if err != nil {
		return nil, err
	}

	overlay := filepath.Join(workdir, "disk.qcow2")
	if err := c.createOverlay(ctx, image, overlay, vm.VM.Disk); err != nil {
		return nil, err
	}

	userData, err := cloudinit.ForGuest(cloudinit.GuestConfig{
		User:       vm.SSH.User,
		PublicKey:  publicKey,
		Packages:   vm.Provision.Packages,
		Compositor: vm.Provision.Compositor,
		Env:        vm.Provision.Env,
		ArchImage:  cloudinit.IsArchImage(vm.VM.Image),
	}).Render()
	if err != nil {
		return nil, err
	}
	metaData, err := cloudinit.ForInstance(name).Render()
	if err != nil {
		return nil, err
	}

	seed := filepath.Join(workdir, "seed.iso")
	if err := cloudinit.WriteSeedISO(seed, userData, metaData); err != nil {
		return nil, err
	}

	c.grantAccess(c.logger, c.imagesDir())
	c.grantAccess(c.logger, workdir)

	if err := c.hv.EnsureNetwork(ctx, vmm.DefaultNetwork); err != nil {
		return nil, err
	}

	if err := c.hv.CreateDomain(ctx, vmm.DomainSpec{
		Name:      name,
		MemoryMiB: uint(vm.VM.Memory),
		CPUs:      uint(vm.VM.CPUs),
		DiskPath:  overlay,
		SeedPath:  seed,
	}); err != nil {
		return nil, err
	}

	handle = &Handle{
		Name:       name,
		InstanceID: uuid.NewString(),
		Domain:     vmm.DomainName(name),
		Image:      image,
		Workdir:    workdir,
		SSHUser:    vm.SSH.User,
		SSHPort:    vm.SSH.Port,
		KeyPath:    keyPath,
		CreatedAt:  c.clock.Now(),
	}
	if err := handle.save(); err != nil {
		return nil, err
	}

	session, err := c.awaitReady(ctx, handle)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := c.provision(ctx, vm, session); err != nil {
		return nil, err
	}

	c.logger.Info("VM ready", "vmName", name, "address", handle.Address)

	return handle, nil
}

// Destroy tears a VM down from any state: force-stop and undefine the
// domain, then remove the working directory. Destroying an absent VM
// is a logged no-op.
func (c *Controller) Destroy(ctx context.Context, name string) error {
	var errs error

	if err := c.hv.DestroyDomain(ctx, name); err != nil {
		errs = errors.Join(errs, err)
	}

	if err := os.RemoveAll(c.workdir(name)); err != nil {
		errs = errors.Join(errs, fmt.Errorf("unable to remove working directory: %w", err))
	}

	if errs == nil {
		c.logger.Info("VM destroyed", "vmName", name)
	}

	return errs
}

// Load reads the persisted handle for a VM name.
func (c *Controller) Load(name string) (*Handle, error) {
	h, err := loadHandle(c.workdir(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrVMNotFound, name)
		}
		return nil, err
	}
	return h, nil
}

// Connect attaches to an existing VM: verify the domain runs,
// re-resolve its address, and hand back a connected session. The
// caller owns closing the session.
func (c *Controller) Connect(ctx context.Context, name string) (*Handle, remote.Session, error) {
	h, err := c.Load(name)
	if err != nil {
		return nil, nil, err
	}

	state, err := c.hv.DomainState(ctx, name)
	if err != nil {
		if errors.Is(err, vmm.ErrDomainNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrVMNotFound, name)
		}
		return nil, nil, err
	}
	if state != vmm.StateRunning {
		return nil, nil, fmt.Errorf("%w: domain %s is %s", ErrNotRunning, h.Domain, state)
	}

	session, err := c.awaitReady(ctx, h)
	if err != nil {
		return nil, nil, err
	}

	return h, session, nil
}

// Snapshot takes a named snapshot of the VM's domain and records it on
// the handle.
func (c *Controller) Snapshot(ctx context.Context, name, snapName string) error {
	if err := c.hv.CreateSnapshot(ctx, name, snapName); err != nil {
		if errors.Is(err, vmm.ErrDomainNotFound) {
			return fmt.Errorf("%w: %s", ErrVMNotFound, name)
		}
		return err
	}

	if h, err := c.Load(name); err == nil {
		h.Snapshots = append(h.Snapshots, snapName)
		if err := h.save(); err != nil {
			c.logger.Warn("unable to record snapshot on handle", "vmName", name, "error", err.Error())
		}
	}

	return nil
}

// Restore rewinds a VM to a snapshot and re-verifies readiness before
// returning: the guest's address and shell identity are not trusted
// across a revert.
func (c *Controller) Restore(ctx context.Context, name, snapName string) (*Handle, error) {
	if err := c.hv.RevertSnapshot(ctx, name, snapName); err != nil {
		if errors.Is(err, vmm.ErrDomainNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVMNotFound, name)
		}
		return nil, err
	}

	h, err := c.Load(name)
	if err != nil {
		return nil, err
	}

	h.Address = ""
	session, err := c.awaitReady(ctx, h)
	if err != nil {
		return nil, err
	}
	session.Close()

	c.logger.Info("VM restored", "vmName", name, "snapshot", snapName, "address", h.Address)

	return h, nil
}

// Info describes a VM's live state. Fields that cannot be resolved
// stay zero.
type Info struct {
	Name         string    `json:"name"`
	Domain       string    `json:"domain"`
	State        vmm.State `json:"state"`
	Address      string    `json:"address,omitempty"`
	SSHUser      string    `json:"ssh_user,omitempty"`
	SSHPort      int       `json:"ssh_port,omitempty"`
	GraphicsPort int       `json:"graphics_port,omitempty"`
	Snapshots    []string  `json:"snapshots,omitempty"`
}

// Info reports the domain state, lease address, display port and
// snapshots of a VM.
func (c *Controller) Info(ctx context.Context, name string) (*Info, error) {
	state, err := c.hv.DomainState(ctx, name)
	if err != nil {
		if errors.Is(err, vmm.ErrDomainNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrVMNotFound, name)
		}
		return nil, err
	}

	info := &Info{Name: name, Domain: vmm.DomainName(name), State: state}

	if address, err := c.hv.DomainAddress(ctx, name); err == nil {
		info.Address = address
	}
	if port, err := c.hv.GraphicsPort(ctx, name); err == nil {
		info.GraphicsPort = port
	}
	if snaps, err := c.hv.ListSnapshots(ctx, name); err == nil {
		info.Snapshots = snaps
	}
	if h, err := c.Load(name); err == nil {
		info.SSHUser = h.SSHUser
		info.SSHPort = h.SSHPort
	}

	return info, nil
}

// awaitReady walks a handle through the readiness checks: poll for a
// lease address, persist it, then poll the SSH handshake. The returned
// session is connected; the caller owns closing it.
func (c *Controller) awaitReady(ctx context.Context, h *Handle) (remote.Session, error) {
	address, err := c.awaitAddress(ctx, h.Name)
	if err != nil {
		return nil, err
	}

	if h.Address != address {
		h.Address = address
		if err := h.save(); err != nil {
			return nil, err
		}
	}

	session := c.newSession(remote.Config{
		Host:    address,
		User:    h.SSHUser,
		Port:    h.SSHPort,
		KeyPath: h.KeyPath,
		Logger:  c.logger,
	})

	if err := c.awaitSession(ctx, session); err != nil {
		session.Close()
		return nil, err
	}

	return session, nil
}

func (c *Controller) awaitAddress(ctx context.Context, name string) (string, error) {
	var address string

	err := waitFor(ctx, c.clock, c.lease, func(ctx context.Context) (bool, error) {
		addr, err := c.hv.DomainAddress(ctx, name)
		if err != nil {
			if errors.Is(err, vmm.ErrNoAddress) {
				return false, nil
			}
			return false, err
		}
		address = addr
		return true, nil
	})
	if errors.Is(err, errWaitTimeout) {
		state := vmm.StateUnknown
		if s, serr := c.hv.DomainState(ctx, name); serr == nil {
			state = s
		}
		return "", fmt.Errorf("%w: no lease address after %s (domain is %s)",
			ErrBootTimeout, c.lease.Total, state)
	}
	if err != nil {
		return "", err
	}

	c.logger.Info("VM leased address", "vmName", name, "address", address)

	return address, nil
}

func (c *Controller) awaitSession(ctx context.Context, session remote.Session) error {
	var lastErr error

	err := waitFor(ctx, c.clock, c.ssh, func(ctx context.Context) (bool, error) {
		herr := session.Handshake(ctx)
		if herr == nil {
			return true, nil
		}
		if errors.Is(herr, remote.ErrAuth) {
			// Credentials never heal on retry.
			return false, herr
		}
		lastErr = herr
		return false, nil
	})
	if errors.Is(err, errWaitTimeout) {
		return fmt.Errorf("%w: no SSH handshake after %s: %v", ErrBootTimeout, c.ssh.Total, lastErr)
	}

	return err
}

type provisionStep struct {
	command string
	timeout time.Duration
}

// provision drives the guest from shell-ready to Ready: wait out
// cloud-init (package installation, user setup, unit files), then make
// sure the compositor service is running. A failing command is fatal
// for the whole up and carries its output.
func (c *Controller) provision(ctx context.Context, vm *manifest.VM, session remote.Session) error {
	steps := []provisionStep{
		{"cloud-init status --wait", provisionTimeout},
	}
	if vm.Provision.Compositor != "" {
		steps = append(steps, provisionStep{"systemctl --user start " + cloudinit.ServiceName, time.Minute})
	}

	for _, step := range steps {
		c.logger.Debug("provisioning", "vmName", vm.VM.Name, "command", step.command)

		if _, err := remote.RunStrict(ctx, session, step.command, step.timeout); err != nil {
			return fmt.Errorf("provisioning failed: %w", err)
		}
	}

	return nil
}
