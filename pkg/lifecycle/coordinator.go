package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"

	"golang.org/x/sync/errgroup"
)

// Listener is a running proxy listener owned by the coordinator.
type Listener interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// ProcessSupervisor stops the dev servers rpx started.
type ProcessSupervisor interface {
	StopAll(ctx context.Context) error
}

// HostsManager removes hosts-file entries.
type HostsManager interface {
	Remove(domains []string) error
}

// CertCleaner deletes generated certificate files for a domain.
type CertCleaner interface {
	Cleanup(domain string) error
}

// DNSService is the embedded DNS responder.
type DNSService interface {
	Stop()
}

// ResolverRegistrar removes per-TLD OS resolver registrations.
type ResolverRegistrar interface {
	Unregister(tlds []string) error
}

// Collaborators are the external components touched by teardown. Nil
// collaborators are skipped.
type Collaborators struct {
	Processes ProcessSupervisor
	Hosts     HostsManager
	Certs     CertCleaner
	DNS       DNSService
	Resolver  ResolverRegistrar
}

// CleanupOptions controls one teardown sequence.
type CleanupOptions struct {
	// Domains affected by hosts and certificate cleanup.
	Domains []string

	// Hosts removes hosts-file entries for the non-loopback Domains.
	Hosts bool

	// Certs deletes certificate files for Domains.
	Certs bool

	// ResolverTLDs are unregistered from the OS resolver.
	ResolverTLDs []string

	// Embedded keeps the process alive after teardown. Callers running
	// inside a host process they do not own set it.
	Embedded bool

	// ExitCode is used when the process exits after a clean teardown. A
	// teardown with failed steps exits with at least 1.
	ExitCode int

	// Reason is logged with the teardown.
	Reason string
}

// Coordinator guarantees a single teardown sequence no matter how many
// triggers fire concurrently.
type Coordinator struct {
	collab   Collaborators
	defaults CleanupOptions

	mu        sync.Mutex
	listeners map[Listener]struct{}
	current   *Completion
	last      *Completion
	triggered chan struct{}

	exit    func(code int)
	metrics *metrics.Collector
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records listener counts and teardown results.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithExit replaces os.Exit. Tests use it to observe the terminal action.
func WithExit(exit func(code int)) Option {
	return func(c *Coordinator) { c.exit = exit }
}

// WithDefaults sets the options used by signal and fault triggered
// teardowns.
func WithDefaults(opts CleanupOptions) Option {
	return func(c *Coordinator) { c.defaults = opts }
}

// NewCoordinator creates a coordinator for the given collaborators.
func NewCoordinator(collab Collaborators, opts ...Option) *Coordinator {
	c := &Coordinator{
		collab:    collab,
		listeners: make(map[Listener]struct{}),
		triggered: make(chan struct{}),
		exit:      os.Exit,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "lifecycle")
	}
	return c
}

// Register adds a listener to be closed on teardown. It returns false, and
// does not take ownership, while a teardown is running: the caller must
// close l itself.
func (c *Coordinator) Register(l Listener) bool {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		c.logger.Debug("cleanup in progress, listener refused", "listener", l.Name())
		return false
	}
	c.listeners[l] = struct{}{}
	n := len(c.listeners)
	c.mu.Unlock()
	c.metrics.SetActiveListeners(n)
	return true
}

// Unregister removes a listener without closing it.
func (c *Coordinator) Unregister(l Listener) {
	c.mu.Lock()
	delete(c.listeners, l)
	n := len(c.listeners)
	c.mu.Unlock()
	c.metrics.SetActiveListeners(n)
}

// Listeners returns a snapshot of the registered listeners.
func (c *Coordinator) Listeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, 0, len(c.listeners))
	for l := range c.listeners {
		out = append(out, l)
	}
	return out
}

// InProgress reports whether a teardown is running.
func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Defaults returns the options used by signal and fault triggers.
func (c *Coordinator) Defaults() CleanupOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaults
}

// SetDefaults replaces the options used by signal and fault triggers, for
// callers that learn their domains after construction.
func (c *Coordinator) SetDefaults(opts CleanupOptions) {
	c.mu.Lock()
	c.defaults = opts
	c.mu.Unlock()
}

// Triggered is closed when the first teardown starts.
func (c *Coordinator) Triggered() <-chan struct{} { return c.triggered }

// Last returns the Completion of the most recent teardown, or nil.
func (c *Coordinator) Last() *Completion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// TriggerCleanup starts the teardown sequence, or returns the Completion of
// the one already running. Teardown is detached from ctx cancellation and
// always runs to the end.
func (c *Coordinator) TriggerCleanup(ctx context.Context, opts CleanupOptions) *Completion {
	c.mu.Lock()
	if c.current != nil {
		comp := c.current
		c.mu.Unlock()
		c.logger.Debug("cleanup already in progress", "reason", opts.Reason)
		return comp
	}
	comp := newCompletion()
	c.current = comp
	if c.last == nil {
		close(c.triggered)
	}
	c.last = comp
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), opts, comp)
	return comp
}

func (c *Coordinator) run(ctx context.Context, opts CleanupOptions, comp *Completion) {
	start := time.Now()
	c.logger.Info("cleaning up", "reason", opts.Reason)

	err := c.teardown(ctx, opts)

	var failed []string
	var cerr *CleanupError
	if errors.As(err, &cerr) {
		failed = cerr.Steps()
		c.logger.Warn("cleanup finished with errors", "error", err, "duration", time.Since(start))
	} else {
		c.logger.Info("cleanup finished", "duration", time.Since(start))
	}
	c.metrics.RecordCleanup(time.Since(start), failed)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	comp.resolve(err)

	if !opts.Embedded {
		code := opts.ExitCode
		if err != nil && code == 0 {
			code = 1
		}
		c.exit(code)
	}
}

// teardown runs every step concurrently and collects their failures.
func (c *Coordinator) teardown(ctx context.Context, opts CleanupOptions) error {
	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	step := func(name string, fn func() error) {
		g.Go(func() error {
			if err := fn(); err != nil {
				c.logger.Warn("cleanup step failed", "step", name, "error", err)
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
			return nil
		})
	}

	if c.collab.Processes != nil {
		step("processes", func() error { return c.collab.Processes.StopAll(ctx) })
	}

	step("listeners", func() error { return c.closeListeners(ctx) })

	if opts.Hosts && c.collab.Hosts != nil {
		if domains := CustomDomains(opts.Domains); len(domains) > 0 {
			step("hosts", func() error { return c.collab.Hosts.Remove(domains) })
		}
	}

	if opts.Certs && c.collab.Certs != nil && len(opts.Domains) > 0 {
		step("certs", func() error {
			var errs []error
			for _, d := range opts.Domains {
				if err := c.collab.Certs.Cleanup(d); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", d, err))
				}
			}
			return errors.Join(errs...)
		})
	}

	if c.collab.DNS != nil || c.collab.Resolver != nil {
		step("dns", func() error {
			if c.collab.DNS != nil {
				c.collab.DNS.Stop()
			}
			if c.collab.Resolver != nil && len(opts.ResolverTLDs) > 0 {
				return c.collab.Resolver.Unregister(opts.ResolverTLDs)
			}
			return nil
		})
	}

	_ = g.Wait()

	if len(failures) > 0 {
		return &CleanupError{Failures: failures}
	}
	return nil
}

func (c *Coordinator) closeListeners(ctx context.Context) error {
	listeners := c.Listeners()

	var g errgroup.Group
	errs := make([]error, len(listeners))
	for i, l := range listeners {
		i, l := i, l
		g.Go(func() error {
			if err := l.Shutdown(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", l.Name(), err)
			}
			c.Unregister(l)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// CustomDomains drops loopback names (localhost, 127.0.0.1 and subdomains
// of localhost), which need no hosts-file entries.
func CustomDomains(domains []string) []string {
	var out []string
	for _, d := range domains {
		if !config.IsLoopbackDomain(d) {
			out = append(out, d)
		}
	}
	return out
}
