// Package termination blocks until the process is asked to stop.
package termination

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/circleci/vcr/o11y"
)

var ErrTerminated = errors.New("terminated")

// Handle returns ErrTerminated when an interrupt or SIGTERM arrives, and nil when ctx is
// done first. Run it in the same errgroup as the servers so a signal shuts them down.
func Handle(ctx context.Context) error {
	return HandleSignals(ctx, os.Interrupt, syscall.SIGTERM)
}

func HandleSignals(ctx context.Context, signals ...os.Signal) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, signals...)
	defer signal.Stop(quit)
	select {
	case sig := <-quit:
		o11y.Log(ctx, "termination: received signal", o11y.Field("signal", sig.String()))
		return ErrTerminated
	case <-ctx.Done():
		return nil
	}
}
