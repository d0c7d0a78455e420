package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals triggers the default teardown on the first SIGINT or
// SIGTERM. A further signal while teardown is running exits immediately
// with status 1. The returned function stops signal delivery.
func (c *Coordinator) HandleSignals(ctx context.Context) (stop func()) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigChan:
				c.handleSignal(ctx, sig)
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

func (c *Coordinator) handleSignal(ctx context.Context, sig os.Signal) {
	if c.InProgress() {
		c.logger.Warn("received second signal, exiting without waiting for cleanup", "signal", sig.String())
		c.exit(1)
		return
	}

	opts := c.Defaults()
	opts.Reason = "signal " + sig.String()
	c.TriggerCleanup(ctx, opts)
}

// Recover runs the default teardown after a panic on the calling goroutine
// and exits with status 1. Use it with defer.
func (c *Coordinator) Recover() {
	r := recover()
	if r == nil {
		return
	}
	c.logger.Error("unrecovered fault, cleaning up", "panic", fmt.Sprint(r))

	opts := c.Defaults()
	opts.Reason = "fault"
	opts.ExitCode = 1
	comp := c.TriggerCleanup(context.Background(), opts)
	<-comp.Done()
	if opts.Embedded {
		panic(r)
	}
}
