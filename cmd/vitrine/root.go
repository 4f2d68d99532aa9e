package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/internal/lifecycle"
	"github.com/vitrinehq/vitrine/internal/logging"
	"github.com/vitrinehq/vitrine/pkg/vmm"
)

type rootFlags struct {
	logLevel   string
	logFormat  string
	baseDir    string
	libvirtURI string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "vitrine",
		Short: "Visual VM testing for Wayland compositors and applications",
		Long: `vitrine boots ephemeral VMs from declarative YAML manifests, waits for
network and SSH readiness, provisions a graphical session, and runs
test manifests whose screenshots are judged against reference images.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level, err := logging.ParseLevel(flags.logLevel)
			if err != nil {
				return &usageError{err}
			}
			format, err := logging.ParseFormat(flags.logFormat)
			if err != nil {
				return &usageError{err}
			}
			logging.Setup(logging.Options{Level: level, Format: format})
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&flags.baseDir, "base-dir", "", "Host state directory (default $XDG_CACHE_HOME/vitrine)")
	pf.StringVar(&flags.libvirtURI, "connect", "", "Libvirt connection URI (default "+vmm.DefaultURI+")")

	cmd.AddCommand(
		newUpCmd(flags),
		newDestroyCmd(flags),
		newShellCmd(flags),
		newViewCmd(flags),
		newScreenshotCmd(flags),
		newTestCmd(flags),
		newSnapshotCmd(flags),
		newRestoreCmd(flags),
		newUpdateReferencesCmd(flags),
	)

	return cmd
}

// newController wires the libvirt-backed controller the subcommands
// drive. The caller closes the returned manager when done.
func (f *rootFlags) newController() (*lifecycle.Controller, *vmm.Manager, error) {
	baseDir := f.baseDir
	if baseDir == "" {
		var err error
		baseDir, err = lifecycle.DefaultBaseDir()
		if err != nil {
			return nil, nil, err
		}
	}

	hv, err := vmm.NewManager(f.libvirtURI, nil)
	if err != nil {
		return nil, nil, err
	}

	ctl, err := lifecycle.NewController(lifecycle.Config{
		BaseDir:    baseDir,
		Hypervisor: hv,
	})
	if err != nil {
		hv.Close()
		return nil, nil, err
	}
	return ctl, hv, nil
}

// exactArgs rejects a wrong argument count as a usage error so the
// process exits with the configuration code.
func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{fmt.Errorf("%s requires exactly %s", cmd.Name(), usage)}
		}
		return nil
	}
}
