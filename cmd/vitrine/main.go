// vitrine boots ephemeral VMs from declarative manifests, drives test
// scenarios against them over SSH, and judges screenshots against
// reference images.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return exitCodeFor(err)
	}
	return exitOK
}
