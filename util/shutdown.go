package util

import (
	"context"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
)

// HandleInterrupts closes shutdownCh on the first interrupt (or when errCh
// fires), cancels on the second interrupt or after grace, and exits the
// process on the third or when doneCh does not close in time.
func HandleInterrupts(ctx context.Context, log *zap.Logger, grace time.Duration, shutdownCh chan<- struct{}, errCh <-chan error, cancel context.CancelFunc, doneCh <-chan struct{}) {
	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt)
	defer signal.Stop(s)

	select {
	case <-ctx.Done():
		return
	case <-s:
		log.Info("got interrupt signal, shutting down gracefully", zap.Duration("timeout", grace))
	case <-errCh:
		log.Info("got error, shutting down gracefully", zap.Duration("timeout", grace))
	}

	log.Info("next interrupt signal will force shutdown")
	close(shutdownCh)

	select {
	case <-ctx.Done():
		return
	case <-s:
		log.Warn("got interrupt signal again, forcing shutdown")
	case <-time.After(grace):
		log.Warn("shutdown timeout reached, forcing shutdown")
	}

	log.Info("next interrupt signal will terminate the process")
	cancel()

	select {
	case <-doneCh:
		return

	case <-s:
		log.Fatal("got interrupt signal again, terminating the process")

	case <-time.After(5 * time.Second):
		log.Fatal("shutdown timeout reached, terminating the process")
	}
}
