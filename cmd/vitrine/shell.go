package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitrinehq/vitrine/internal/lifecycle"
	"github.com/vitrinehq/vitrine/pkg/vmm"
)

func newShellCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell <name> [-- command...]",
		Short: "Open an interactive SSH shell on a VM, or run a one-off command",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return &usageError{fmt.Errorf("shell requires a VM name")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, root, args[0], args[1:])
		},
	}
}

func runShell(cmd *cobra.Command, root *rootFlags, name string, command []string) error {
	ctl, hv, err := root.newController()
	if err != nil {
		return err
	}
	defer hv.Close()

	if len(command) > 0 {
		_, session, err := ctl.Connect(cmd.Context(), name)
		if err != nil {
			return err
		}
		defer session.Close()

		res, err := session.Run(cmd.Context(), strings.Join(command, " "), 0)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
		if res.ExitCode != 0 {
			return &remoteExitError{code: res.ExitCode}
		}
		return nil
	}

	handle, err := ctl.Load(name)
	if err != nil {
		return err
	}
	info, err := ctl.Info(cmd.Context(), name)
	if err != nil {
		return err
	}
	if info.State != vmm.StateRunning {
		return fmt.Errorf("%w: domain %s is %s", lifecycle.ErrNotRunning, handle.Domain, info.State)
	}
	address := handle.Address
	if info.Address != "" {
		address = info.Address
	}
	return execSSH(handle.SSHUser, address, handle.SSHPort, handle.KeyPath)
}

// execSSH replaces the current process with the ssh client so the
// interactive session owns the terminal.
func execSSH(user, address string, port int, keyPath string) error {
	path, err := exec.LookPath("ssh")
	if err != nil {
		return fmt.Errorf("ssh client not found in PATH: %w", err)
	}
	return syscall.Exec(path, sshArgs(user, address, port, keyPath), os.Environ())
}

func sshArgs(user, address string, port int, keyPath string) []string {
	args := []string{"ssh", "-o", "StrictHostKeyChecking=no", "-p", strconv.Itoa(port)}
	if keyPath != "" {
		args = append(args, "-i", keyPath)
	}
	return append(args, user+"@"+address)
}
