package ingest

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context that is cancelled on SIGTERM or SIGINT.
// onSignal, if set, runs before the cancel. A second signal exits immediately
// without waiting for in-flight work.
func SetupSignalHandler(parent context.Context, onSignal func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[Signal] Received %v, finishing in-flight work (send again to force exit)...", sig)
		case <-parent.Done():
			signal.Stop(sigCh)
			cancel()
			return
		}

		if onSignal != nil {
			onSignal()
		}
		cancel()

		sig := <-sigCh
		log.Printf("[Signal] Received second %v, forcing exit", sig)
		os.Exit(1)
	}()

	return ctx
}
