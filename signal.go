package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext is canceled by the first SIGINT or SIGTERM so in-flight
// uploads can save their progress. A second signal exits immediately.
func shutdownContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "received %s, stopping (send again to force)\n", sig)
			cancel()
		case <-parent.Done():
			cancel()
			return
		}

		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "received %s again, exiting\n", sig)
			os.Exit(130)
		case <-parent.Done():
		}
	}()

	return ctx
}
