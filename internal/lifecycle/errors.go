package lifecycle

import "errors"

var (
	// ErrVMExists rejects an up against a name whose domain or working
	// directory already exists. Nothing is allocated when this fires.
	ErrVMExists = errors.New("VM already exists")

	// ErrVMNotFound reports an operation against a VM this host has no
	// record of.
	ErrVMNotFound = errors.New("VM not found")

	// ErrNotRunning reports a connect against a VM whose domain exists
	// but is shut off, paused or otherwise not running.
	ErrNotRunning = errors.New("VM is not running")

	// ErrImageNotFound means the manifest's base image resolved to
	// nothing on disk or in the cache.
	ErrImageNotFound = errors.New("base image not found")

	// ErrBootTimeout means the guest never reached readiness within the
	// backoff budget. The wrapped message carries the last observed
	// state.
	ErrBootTimeout = errors.New("timed out waiting for VM readiness")
)
