package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"
)

func newViewCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "view <name>",
		Short: "Open the VM's SPICE display in remote-viewer",
		Args:  exactArgs(1, "one VM name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, root, args[0])
		},
	}
}

func runView(cmd *cobra.Command, root *rootFlags, name string) error {
	ctl, hv, err := root.newController()
	if err != nil {
		return err
	}
	defer hv.Close()

	info, err := ctl.Info(cmd.Context(), name)
	if err != nil {
		return err
	}
	if info.GraphicsPort == 0 {
		return fmt.Errorf("no SPICE display port for VM %q", name)
	}

	viewer, err := exec.LookPath("remote-viewer")
	if err != nil {
		return fmt.Errorf("remote-viewer not found in PATH (install virt-viewer): %w", err)
	}

	// Detach the viewer so it outlives this process.
	proc := exec.Command(viewer, fmt.Sprintf("spice://127.0.0.1:%d", info.GraphicsPort))
	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting remote-viewer: %w", err)
	}
	if err := proc.Process.Release(); err != nil {
		return fmt.Errorf("detaching remote-viewer: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Opened SPICE viewer on port %d\n", info.GraphicsPort)
	return nil
}
