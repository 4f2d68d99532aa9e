package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/internal/manifest"
	"github.com/vitrinehq/vitrine/internal/remote"
)

func newScreenshotCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "screenshot <name> <remote-path> <local-path>",
		Short: "Capture the VM's screen with its screenshot tool and download the image",
		Args:  exactArgs(3, "a VM name, a remote path and a local path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreenshot(cmd, root, args[0], args[1], args[2])
		},
	}
}

func runScreenshot(cmd *cobra.Command, root *rootFlags, name, remotePath, localPath string) error {
	vm, err := manifest.FindVM(name)
	if err != nil {
		return err
	}

	ctl, hv, err := root.newController()
	if err != nil {
		return err
	}
	defer hv.Close()

	_, session, err := ctl.Connect(cmd.Context(), name)
	if err != nil {
		return err
	}
	defer session.Close()

	capture := remote.FormatCmd(vm.Provision.Env, vm.Provision.Screenshot+" "+remotePath)
	if _, err := remote.RunStrict(cmd.Context(), session, capture, 0); err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := session.Fetch(cmd.Context(), remotePath, localPath); err != nil {
		return fmt.Errorf("fetching screenshot: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Screenshot saved: %s\n", localPath)
	return nil
}
