package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitrinehq/vitrine/internal/lifecycle"
	"github.com/vitrinehq/vitrine/internal/manifest"
	"github.com/vitrinehq/vitrine/pkg/vmm"
)

// Process exit codes. Assertion failures (a failing test verdict) are
// distinguished from engine failures so CI can tell a red test from a
// broken harness.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitAssertion   = 3
	exitInterrupted = 130
)

// exitCoder lets an error pin the process exit code.
type exitCoder interface {
	ExitCode() int
}

// usageError marks bad invocations (missing flags, wrong arguments) as
// configuration errors.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }
func (e *usageError) ExitCode() int { return exitConfig }

// verdictError carries a failing test verdict out of the test command.
type verdictError struct {
	verdict string
}

func (e *verdictError) Error() string { return "test verdict: " + e.verdict }
func (e *verdictError) ExitCode() int { return exitAssertion }

// remoteExitError passes a guest command's exit code through to the
// host process, mirroring what ssh itself would do.
type remoteExitError struct {
	code int
}

func (e *remoteExitError) Error() string { return fmt.Sprintf("remote command exited %d", e.code) }
func (e *remoteExitError) ExitCode() int { return e.code }

func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}

	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}

	if isUserError(err) {
		return exitConfig
	}
	return exitFailure
}

// isUserError classifies mistakes the user can fix by editing a
// manifest or picking another name, as opposed to infrastructure
// failures.
func isUserError(err error) bool {
	var verrs manifest.ValidationErrors
	if errors.As(err, &verrs) {
		return true
	}

	return errors.Is(err, manifest.ErrNotFound) ||
		errors.Is(err, lifecycle.ErrVMExists) ||
		errors.Is(err, lifecycle.ErrVMNotFound) ||
		errors.Is(err, vmm.ErrSnapshotExists) ||
		errors.Is(err, vmm.ErrSnapshotNotFound)
}
