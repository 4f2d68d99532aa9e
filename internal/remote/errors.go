package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Transport failure classes. Connection errors are retryable (the
// guest may still be booting); authentication errors are not, since
// misconfigured credentials never heal by waiting.
var (
	ErrConnection = errors.New("ssh connection error")
	ErrAuth       = errors.New("ssh authentication failed")
	ErrTimeout    = errors.New("remote command timed out")
)

// ExitError reports a guest command that ran to completion with a
// non-zero status, carrying its output for diagnostics.
type ExitError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("remote command %q exited %d", e.Command, e.ExitCode)
	if detail := strings.TrimSpace(e.Stderr); detail != "" {
		return msg + ": " + detail
	}
	if detail := strings.TrimSpace(e.Stdout); detail != "" {
		return msg + ": " + detail
	}
	return msg
}
