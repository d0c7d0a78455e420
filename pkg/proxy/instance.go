package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/proxy/middleware"
	"stacks-dev/rpx/pkg/telemetry/metrics"
	"stacks-dev/rpx/pkg/telemetry/tracing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// State is the lifecycle position of an Instance.
type State int

const (
	StateUnconfigured State = iota
	StateResolvingPort
	StateListening
	StateServing
	StateShuttingDown
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateResolvingPort:
		return "resolving_port"
	case StateListening:
		return "listening"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting_down"
	case StateClosed:
		return "closed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// PortReserver hands out listener ports. *ports.Allocator satisfies it.
type PortReserver interface {
	Reserve(ctx context.Context, start int, testConnectivity bool) (int, error)
	Claim(ctx context.Context, port int) bool
	Release(port int)
}

// InstanceOptions carries the collaborators of an Instance.
type InstanceOptions struct {
	// Ports is required.
	Ports       PortReserver
	PortsConfig config.PortsConfig

	// TLSConfig must be set when the route requests TLS.
	TLSConfig *tls.Config

	// Prober runs the upstream readiness probe before serving. Nil skips it.
	Prober *Prober

	// Transport overrides the upstream transport, mostly for tests.
	Transport http.RoundTripper

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Logger  *slog.Logger
}

// Instance serves one Route on its own listener, plus an optional HTTP to
// HTTPS redirect listener on port 80.
type Instance struct {
	route config.Route
	opts  InstanceOptions

	logger *slog.Logger

	mu           sync.Mutex
	state        State
	port         int
	redirectPort int
	server       *http.Server
	redirect     *http.Server
	done         chan struct{}
	serveErr     error

	// started is closed when Start returns; cancelStart aborts a Start
	// in progress.
	started     chan struct{}
	cancelStart context.CancelFunc
}

// NewInstance creates an unstarted instance for route.
func NewInstance(route config.Route, opts InstanceOptions) *Instance {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Instance{
		route:  route,
		opts:   opts,
		logger: logger.With("component", "proxy", "route", route.To),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Name returns the public hostname served by the instance.
func (i *Instance) Name() string { return i.route.To }

// Route returns the route served by the instance.
func (i *Instance) Route() config.Route { return i.route }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Port returns the resolved listener port, or 0 before resolution.
func (i *Instance) Port() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.port
}

// URL returns the public URL of the route. The port is omitted when it is
// the scheme default.
func (i *Instance) URL() string {
	port := i.Port()
	scheme, def := "http", 80
	if i.route.TLS {
		scheme, def = "https", 443
	}
	if port == 0 || port == def {
		return scheme + "://" + i.route.To
	}
	return scheme + "://" + net.JoinHostPort(i.route.To, strconv.Itoa(port))
}

// Done is closed once the listener has stopped serving.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Err returns the error that stopped the listener, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.serveErr
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
	i.logger.Debug("proxy state changed", "state", s.String())
}

// Start resolves a port, binds it, probes the upstream and begins serving.
// It returns once the listener accepts connections. A failed readiness
// probe is logged and does not stop startup. A Shutdown issued while Start
// is running aborts it; Start then returns ErrInstanceClosed.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	switch i.state {
	case StateUnconfigured:
	case StateShuttingDown, StateClosed:
		i.mu.Unlock()
		return ErrInstanceClosed
	default:
		i.mu.Unlock()
		return ErrInstanceStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	i.state = StateResolvingPort
	i.cancelStart = cancel
	i.mu.Unlock()
	defer close(i.started)

	if err := i.start(ctx); err != nil {
		i.setState(StateClosed)
		close(i.done)
		return fmt.Errorf("starting proxy for %s: %w", i.route.To, err)
	}
	return nil
}

// advance moves from one startup state to the next. It fails when a
// concurrent Shutdown has taken over.
func (i *Instance) advance(from, to State, update func()) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != from {
		return false
	}
	if update != nil {
		update()
	}
	i.state = to
	return true
}

func (i *Instance) start(ctx context.Context) (err error) {
	if i.route.TLS && i.opts.TLSConfig == nil {
		return ErrTLSMaterialMissing
	}

	fwd, err := NewForwarder(i.route, ForwarderOptions{
		Transport: i.opts.Transport,
		Metrics:   i.opts.Metrics,
		Tracer:    i.opts.Tracer,
		Logger:    i.logger,
	})
	if err != nil {
		return err
	}

	port, err := i.resolvePort(ctx)
	if err != nil {
		return err
	}

	// Until the instance is serving, everything acquired here is released
	// here, including after a concurrent Shutdown.
	var ln net.Listener
	var redirect *http.Server
	defer func() {
		if err == nil {
			return
		}
		if ln != nil {
			ln.Close()
		}
		if redirect != nil {
			redirect.Close()
			i.opts.Ports.Release(80)
		}
		i.opts.Ports.Release(port)
	}()

	if !i.advance(StateResolvingPort, StateListening, func() { i.port = port }) {
		return ErrInstanceClosed
	}
	i.logger.Debug("proxy state changed", "state", StateListening.String())

	ln, err = net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		ln = nil
		return fmt.Errorf("listening on port %d: %w", port, err)
	}

	srv := &http.Server{
		Handler:           i.handler(fwd),
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(i.logger.Handler(), slog.LevelDebug),
	}
	if i.route.TLS {
		srv.TLSConfig = i.opts.TLSConfig.Clone()
		if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
			return fmt.Errorf("configuring HTTP/2: %w", err)
		}
		ln = tls.NewListener(ln, srv.TLSConfig)
	} else {
		srv.Handler = h2c.NewHandler(srv.Handler, &http2.Server{})
	}

	if i.route.TLS {
		redirect = i.startRedirect(ctx)
	}

	if i.opts.Prober != nil {
		if err := i.opts.Prober.WaitReady(ctx, i.route.From); err != nil {
			i.logger.Warn("upstream not reachable, proxying anyway", "upstream", i.route.From, "error", err)
		}
	}

	serving := i.advance(StateListening, StateServing, func() {
		i.server = srv
		i.redirect = redirect
		if redirect != nil {
			i.redirectPort = 80
		}
	})
	if !serving {
		return ErrInstanceClosed
	}

	i.logger.Info("proxy listening",
		"url", i.URL(),
		"port", port,
		"upstream", i.route.From,
		"tls", i.route.TLS,
		"clean_urls", i.route.CleanURLs,
		"change_origin", i.route.ChangeOrigin,
	)

	go func() {
		defer close(i.done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Error("proxy listener failed", "error", err)
			i.mu.Lock()
			i.serveErr = err
			i.mu.Unlock()
		}
	}()

	return nil
}

// resolvePort claims 443 (TLS) or 80 when free, otherwise scans the
// fallback range with a connectivity test.
func (i *Instance) resolvePort(ctx context.Context) (int, error) {
	target, fallback := 80, 80+i.opts.PortsConfig.HTTPFallbackOffset
	if i.route.TLS {
		target, fallback = 443, i.opts.PortsConfig.HTTPSFallback
	}

	if i.opts.Ports.Claim(ctx, target) {
		return target, nil
	}
	i.logger.Debug("preferred port unavailable, scanning fallback range", "port", target, "fallback", fallback)

	port, err := i.opts.Ports.Reserve(ctx, fallback, true)
	if err != nil {
		return 0, err
	}
	return port, nil
}

// startRedirect brings up the port 80 redirect listener when that port is
// free and unclaimed. Failures only disable the redirect.
func (i *Instance) startRedirect(ctx context.Context) *http.Server {
	if !i.opts.Ports.Claim(ctx, 80) {
		i.logger.Debug("port 80 unavailable, HTTP redirect disabled")
		return nil
	}

	ln, err := net.Listen("tcp", ":80")
	if err != nil {
		i.opts.Ports.Release(80)
		i.logger.Warn("HTTP redirect listener failed", "error", err)
		return nil
	}

	srv := &http.Server{
		Handler:           RedirectHandler(i.route.To, i.Port, i.opts.Metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			i.logger.Warn("HTTP redirect listener stopped", "error", err)
		}
	}()
	i.logger.Info("HTTP redirect listening", "port", 80)
	return srv
}

func (i *Instance) handler(fwd *Forwarder) http.Handler {
	return middleware.Chain(fwd,
		middleware.Recovery(i.logger),
		middleware.RequestID,
		middleware.Tracing(i.opts.Tracer, i.route.To),
		middleware.Logging(i.logger),
	)
}

// Shutdown stops the listeners and releases their ports. It is safe to call
// more than once.
func (i *Instance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	switch i.state {
	case StateShuttingDown, StateClosed:
		i.mu.Unlock()
		return nil
	case StateUnconfigured:
		i.state = StateClosed
		i.mu.Unlock()
		close(i.done)
		return nil
	case StateResolvingPort, StateListening:
		// Start owns its resources until it is serving; abort it and wait.
		i.state = StateShuttingDown
		cancel := i.cancelStart
		i.mu.Unlock()
		cancel()
		select {
		case <-i.started:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for startup of %s to abort: %w", i.route.To, ctx.Err())
		}
	}
	i.state = StateShuttingDown
	srv, redirect := i.server, i.redirect
	port, redirectPort := i.port, i.redirectPort
	i.mu.Unlock()

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing listener on port %d: %w", port, err))
			srv.Close()
		}
	}
	if redirect != nil {
		if err := redirect.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing redirect listener: %w", err))
			redirect.Close()
		}
		i.opts.Ports.Release(redirectPort)
	}
	if port != 0 {
		i.opts.Ports.Release(port)
	}

	i.setState(StateClosed)
	i.logger.Info("proxy stopped", "port", port)
	return errors.Join(errs...)
}
