package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"
)

const maxPort = 65535

// Allocator hands out ports that are free on this machine and not already
// owned by this process. One Allocator is shared by every route.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}

	maxAttempts    int
	probeTimeout   time.Duration
	connectTimeout time.Duration

	// bindHost is the interface probed for a free port; "" means all.
	bindHost string
	// dialHost is the address used for the connect-to-self test.
	dialHost string
	dial     DialFunc

	metrics *metrics.Collector
	logger  *slog.Logger
}

// DialFunc opens the connect-to-self connection of a connectivity test.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Option customizes an Allocator.
type Option func(*Allocator)

// WithMetrics records probe results and exhaustions.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Allocator) { a.metrics = c }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// WithBindHost probes a specific interface instead of all of them.
func WithBindHost(host string) Option {
	return func(a *Allocator) { a.bindHost = host }
}

// WithDialer replaces the dialer used by the connectivity test.
func WithDialer(dial DialFunc) Option {
	return func(a *Allocator) { a.dial = dial }
}

// New creates an allocator from the ports configuration. Zero values fall
// back to the defaults.
func New(cfg config.PortsConfig, opts ...Option) *Allocator {
	a := &Allocator{
		reserved:       make(map[int]struct{}),
		maxAttempts:    cfg.MaxAttempts,
		probeTimeout:   cfg.ProbeTimeout,
		connectTimeout: cfg.ConnectTimeout,
		dialHost:       "127.0.0.1",
		logger:         slog.Default().With("component", "ports"),
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = config.DefaultPortMaxAttempts
	}
	if a.probeTimeout <= 0 {
		a.probeTimeout = config.DefaultPortProbeTimeout
	}
	if a.connectTimeout <= 0 {
		a.connectTimeout = config.DefaultPortConnectTimeout
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.dial == nil {
		a.dial = (&net.Dialer{Timeout: a.connectTimeout}).DialContext
	}
	return a
}

// Reserve returns the first usable port at or above start and records it as
// owned by this process. A port is skipped when it is already reserved or a
// bind probe fails for any reason. With testConnectivity, a port that binds
// must also accept a loopback connection before it is returned.
//
// Concurrent calls never return the same port.
func (a *Allocator) Reserve(ctx context.Context, start int, testConnectivity bool) (int, error) {
	if start <= 0 || start > maxPort {
		return 0, fmt.Errorf("invalid start port %d", start)
	}

	port := start
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if port > maxPort {
			break
		}

		if !a.claimTentative(port) {
			a.logger.Debug("port already reserved", "port", port)
			port++
			continue
		}

		if err := a.probe(ctx, port); err != nil {
			a.unclaim(port)
			a.metrics.RecordPortProbe("busy")
			a.logger.Debug("port busy", "port", port, "attempt", attempt, "error", err)
			port++
			continue
		}

		if testConnectivity {
			if err := a.testConnectivity(ctx, port); err != nil {
				a.unclaim(port)
				a.metrics.RecordPortProbe("unreachable")
				a.logger.Debug("port free but not connectable", "port", port, "error", err)
				port++
				continue
			}
		}

		a.metrics.RecordPortProbe("free")
		a.logger.Debug("port reserved", "port", port, "attempts", attempt)
		return port, nil
	}

	a.metrics.RecordPortExhaustion()
	return 0, &ExhaustionError{Start: start, Attempts: a.maxAttempts}
}

// Claim reserves exactly port if it is free, without scanning.
func (a *Allocator) Claim(ctx context.Context, port int) bool {
	if port <= 0 || port > maxPort || !a.claimTentative(port) {
		return false
	}
	if err := a.probe(ctx, port); err != nil {
		a.unclaim(port)
		a.metrics.RecordPortProbe("busy")
		return false
	}
	a.metrics.RecordPortProbe("free")
	return true
}

// Release drops a port from the reservation set. Releasing a port that is not
// reserved is a no-op.
func (a *Allocator) Release(port int) {
	a.unclaim(port)
}

// IsReserved reports whether port is owned by this process.
func (a *Allocator) IsReserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[port]
	return ok
}

// Reserved returns the reserved ports in ascending order.
func (a *Allocator) Reserved() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.reserved))
	for p := range a.reserved {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// claimTentative adds port to the set unless another caller holds it. The
// probe then runs outside the lock.
func (a *Allocator) claimTentative(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reserved[port]; ok {
		return false
	}
	a.reserved[port] = struct{}{}
	a.metrics.SetReservedPorts(len(a.reserved))
	return true
}

func (a *Allocator) unclaim(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, port)
	a.metrics.SetReservedPorts(len(a.reserved))
}

// probe binds a throwaway listener. A bind that does not complete within the
// probe timeout counts as busy.
func (a *Allocator) probe(ctx context.Context, port int) error {
	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(a.bindHost, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}

// testConnectivity listens on port and connects to it over loopback.
func (a *Allocator) testConnectivity(ctx context.Context, port int) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(a.bindHost, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	dctx, cancel := context.WithTimeout(ctx, a.connectTimeout)
	defer cancel()
	conn, err := a.dial(dctx, "tcp", net.JoinHostPort(a.dialHost, strconv.Itoa(port)))
	if err != nil {
		ln.Close()
		<-accepted
		return fmt.Errorf("connect to %s:%d: %w", a.dialHost, port, err)
	}
	conn.Close()

	select {
	case <-accepted:
		return nil
	case <-time.After(a.connectTimeout):
		ln.Close()
		<-accepted
		return errors.New("connection was not accepted in time")
	}
}
