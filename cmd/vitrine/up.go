package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/internal/manifest"
)

func newUpCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "up <name>",
		Short: "Boot a VM from its manifest and provision the graphical session",
		Args:  exactArgs(1, "one VM name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, root, args[0])
		},
	}
}

func runUp(cmd *cobra.Command, root *rootFlags, name string) error {
	vm, err := manifest.FindVM(name)
	if err != nil {
		return err
	}

	ctl, hv, err := root.newController()
	if err != nil {
		return err
	}
	defer hv.Close()

	handle, err := ctl.Up(cmd.Context(), vm)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "VM %q is up\n", handle.Name)
	fmt.Fprintf(out, "  IP:    %s\n", handle.Address)
	fmt.Fprintf(out, "  SSH:   ssh %s@%s -p %d\n", handle.SSHUser, handle.Address, handle.SSHPort)
	if info, err := ctl.Info(cmd.Context(), handle.Name); err == nil && info.GraphicsPort > 0 {
		fmt.Fprintf(out, "  SPICE: spice://127.0.0.1:%d\n", info.GraphicsPort)
	}
	return nil
}
