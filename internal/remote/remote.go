// Package remote provides the SSH session a provisioned guest is
// driven through: command execution with captured output, file
// transfer, and the readiness handshake the lifecycle controller
// polls during boot.
package remote

import (
	"context"
	"time"
)

// Session is the remote execution surface consumed by the lifecycle
// controller and the scenario runner. *Client implements it over SSH.
type Session interface {
	// Run executes a command in the guest. A non-zero exit is reported
	// in the Result, not as an error; errors mean the command could not
	// run to completion (transport failure, timeout, cancellation).
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)

	// Fetch copies a guest file to the host, creating parent
	// directories for localPath as needed.
	Fetch(ctx context.Context, remotePath, localPath string) error

	// Push copies a host file into the guest.
	Push(ctx context.Context, localPath, remotePath string) error

	// Handshake connects and authenticates without running anything.
	Handshake(ctx context.Context) error

	// Close tears down the connection. Safe to call repeatedly.
	Close() error
}

// Result is the outcome of one executed guest command. A non-zero
// ExitCode is a command-level fact, not a transport error.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunStrict is Run with a non-zero exit promoted to an *ExitError, for
// callers that treat guest command failure as fatal.
func RunStrict(ctx context.Context, s Session, command string, timeout time.Duration) (Result, error) {
	res, err := s.Run(ctx, command, timeout)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &ExitError{
			Command:  command,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}
