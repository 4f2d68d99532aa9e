package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDestroyCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <name>",
		Short: "Stop a VM and remove its disk, seed image and host state",
		Args:  exactArgs(1, "one VM name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, hv, err := root.newController()
			if err != nil {
				return err
			}
			defer hv.Close()

			if err := ctl.Destroy(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VM %q destroyed\n", args[0])
			return nil
		},
	}
}
