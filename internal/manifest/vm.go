// Package manifest loads and validates the declarative YAML manifests
// vitrine consumes: VM manifests describing a machine to provision and
// test manifests describing the scenario steps to run against it.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults applied to omitted VM manifest fields.
const (
	DefaultMemoryMiB  = 2048
	DefaultCPUs       = 2
	DefaultDiskGiB    = 10
	DefaultSSHPort    = 22
	DefaultDisplay    = "wayland"
	DefaultScreenshot = "grim"
)

// VM is a complete VM manifest. The vm, provision and ssh sections are
// all required; omitted scalar fields receive defaults at load time.
type VM struct {
	VM        *VMSpec        `yaml:"vm" validate:"required"`
	Provision *ProvisionSpec `yaml:"provision" validate:"required"`
	SSH       *SSHSpec       `yaml:"ssh" validate:"required"`

	// Path is the absolute path this manifest was loaded from. Relative
	// references inside the manifest resolve against its directory.
	Path string `yaml:"-"`
}

// VMSpec identifies the machine and its resource sizing.
type VMSpec struct {
	// Name is unique within the manifest namespace; it derives the
	// working directory and the hypervisor domain name.
	Name string `yaml:"name" validate:"required,vm_name"`

	// Image is the base disk image: an absolute path, a path relative
	// to the manifest, a file name in the image cache, or an http(s)
	// URL downloaded into the cache.
	Image string `yaml:"image" validate:"required"`

	// Memory is the RAM allocation in MiB.
	Memory int `yaml:"memory" validate:"omitempty,min=64"`

	// CPUs is the vCPU count.
	CPUs int `yaml:"cpus" validate:"omitempty,min=1"`

	// Disk is the overlay disk size in GiB.
	Disk int `yaml:"disk" validate:"omitempty,min=1"`
}

// ProvisionSpec describes how to turn a freshly booted guest into a
// machine with a running graphical session.
type ProvisionSpec struct {
	// Packages are installed on first boot.
	Packages []string `yaml:"packages"`

	// Compositor is the command line that launches the graphical
	// session, run as a systemd user service in headless mode.
	Compositor string `yaml:"compositor"`

	// Display is the display server kind. Only "wayland" is supported.
	Display string `yaml:"display" validate:"omitempty,oneof=wayland"`

	// Screenshot is the in-guest capture command; it is invoked as
	// "<screenshot> <path>" to produce a raster file in the guest.
	Screenshot string `yaml:"screenshot"`

	// Env is exported to the compositor service and to scenario
	// commands.
	Env map[string]string `yaml:"env"`
}

// SSHSpec carries the remote-shell connection parameters.
type SSHSpec struct {
	User string `yaml:"user" validate:"required"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// LoadVM reads, defaults and validates a VM manifest.
func LoadVM(path string) (*VM, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read VM manifest: %w", err)
	}

	var m VM
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unable to parse VM manifest %s: %w", path, err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		m.Path = abs
	} else {
		m.Path = path
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid VM manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *VM) applyDefaults() {
	if m.VM != nil {
		if m.VM.Memory == 0 {
			m.VM.Memory = DefaultMemoryMiB
		}
		if m.VM.CPUs == 0 {
			m.VM.CPUs = DefaultCPUs
		}
		if m.VM.Disk == 0 {
			m.VM.Disk = DefaultDiskGiB
		}
	}
	if m.Provision != nil {
		if m.Provision.Display == "" {
			m.Provision.Display = DefaultDisplay
		}
		if m.Provision.Screenshot == "" {
			m.Provision.Screenshot = DefaultScreenshot
		}
		if m.Provision.Env == nil {
			m.Provision.Env = map[string]string{}
		}
	}
	if m.SSH != nil && m.SSH.Port == 0 {
		m.SSH.Port = DefaultSSHPort
	}
}

// Validate checks field-level rules and returns ValidationErrors
// describing every violation.
func (m *VM) Validate() error {
	return validateStruct(m)
}

// Dir returns the directory the manifest was loaded from.
func (m *VM) Dir() string {
	return filepath.Dir(m.Path)
}
