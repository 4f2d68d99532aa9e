package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <name> <snapshot-name>",
		Short: "Take a named snapshot of a VM",
		Args:  exactArgs(2, "a VM name and a snapshot name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, hv, err := root.newController()
			if err != nil {
				return err
			}
			defer hv.Close()

			if err := ctl.Snapshot(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %q created for VM %q\n", args[1], args[0])
			return nil
		},
	}
}
