package lifecycle

import "context"

// Completion resolves when a teardown sequence has finished. Every caller
// that triggered the same sequence shares one Completion.
type Completion struct {
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(err error) {
	c.err = err
	close(c.done)
}

// Done is closed when the teardown has finished.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Wait blocks until the teardown finishes or ctx ends. The returned error
// is a *CleanupError when any step failed.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the teardown result. It is nil until Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
