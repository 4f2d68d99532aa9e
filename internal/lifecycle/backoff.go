package lifecycle

import (
	"context"
	"errors"
	"time"

	"k8s.io/utils/clock"
)

// Backoff bounds one polling loop: the first retry interval, the
// growth factor applied after every attempt, the interval cap, and the
// total budget after which the loop gives up.
type Backoff struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
	Total   time.Duration
}

// DefaultLeaseBackoff paces DHCP lease polling. Guests usually lease
// within 15-30s of domain start.
func DefaultLeaseBackoff() Backoff {
	return Backoff{Initial: time.Second, Factor: 1.5, Cap: 10 * time.Second, Total: 60 * time.Second}
}

// DefaultSSHBackoff paces the remote-shell handshake poll. sshd comes
// up late in first boot, after cloud-init's early stages.
func DefaultSSHBackoff() Backoff {
	return Backoff{Initial: 2 * time.Second, Factor: 1.5, Cap: 15 * time.Second, Total: 300 * time.Second}
}

func (b Backoff) orDefault(def Backoff) Backoff {
	if b.Total <= 0 {
		return def
	}
	return b
}

var errWaitTimeout = errors.New("timed out")

// waitFor polls attempt until it reports done, fails, exhausts the
// backoff budget, or ctx is cancelled. attempt returning an error stops
// the loop immediately; (false, nil) means not ready yet.
func waitFor(ctx context.Context, clk clock.Clock, b Backoff, attempt func(context.Context) (bool, error)) error {
	deadline := clk.Now().Add(b.Total)
	interval := b.Initial

	for {
		done, err := attempt(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if !clk.Now().Before(deadline) {
			return errWaitTimeout
		}

		timer := clk.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}

		interval = time.Duration(float64(interval) * b.Factor)
		if interval > b.Cap {
			interval = b.Cap
		}
	}
}
