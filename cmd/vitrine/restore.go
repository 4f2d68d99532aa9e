package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name> <snapshot-name>",
		Short: "Rewind a VM to a snapshot and wait for it to become ready again",
		Args:  exactArgs(2, "a VM name and a snapshot name"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, hv, err := root.newController()
			if err != nil {
				return err
			}
			defer hv.Close()

			handle, err := ctl.Restore(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "VM %q restored to snapshot %q\n", args[0], args[1])
			fmt.Fprintf(out, "  IP:    %s\n", handle.Address)
			return nil
		},
	}
}
