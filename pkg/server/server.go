package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"stacks-dev/rpx/pkg/certs"
	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/dns"
	"stacks-dev/rpx/pkg/hosts"
	"stacks-dev/rpx/pkg/lifecycle"
	"stacks-dev/rpx/pkg/ports"
	"stacks-dev/rpx/pkg/process"
	"stacks-dev/rpx/pkg/proxy"
	"stacks-dev/rpx/pkg/telemetry/health"
	"stacks-dev/rpx/pkg/telemetry/metrics"
	"stacks-dev/rpx/pkg/telemetry/tracing"

	"golang.org/x/sync/errgroup"
)

// Server owns every collaborator of a running rpx and the proxy instances
// started through it.
type Server struct {
	config *config.Config

	ports    *ports.Allocator
	dns      *dns.Responder
	resolver *dns.Registrar
	hosts    *hosts.Manager
	certs    *certs.Provider
	procs    *process.Supervisor
	prober   *proxy.Prober
	coord    *lifecycle.Coordinator

	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	health    *health.Checker
	logger    *slog.Logger
	transport http.RoundTripper
	embedded  bool
	exit      func(int)
	onReady   func([]*proxy.Instance)

	mu        sync.Mutex
	instances []*proxy.Instance
	domains   []string
	dnsTLDs   []string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records metrics for every component.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracer traces forwarded requests and DNS queries.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithHealth registers readiness checks for DNS and each upstream.
func WithHealth(h *health.Checker) Option {
	return func(s *Server) { s.health = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithEmbedded keeps the process alive after teardown.
func WithEmbedded(embedded bool) Option {
	return func(s *Server) { s.embedded = embedded }
}

// WithExit replaces os.Exit for the terminal action of teardown.
func WithExit(exit func(int)) Option {
	return func(s *Server) { s.exit = exit }
}

// WithTransport overrides the upstream transport of every instance.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// WithOnReady is called by Run once the routes have started.
func WithOnReady(fn func([]*proxy.Instance)) Option {
	return func(s *Server) { s.onReady = fn }
}

// New creates a server for cfg. Nothing is started until StartProxy or
// StartProxies is called.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.ports = ports.New(cfg.Ports,
		ports.WithMetrics(s.metrics),
		ports.WithLogger(s.logger.With("component", "ports")),
	)
	s.dns = dns.NewResponder(cfg.DNS,
		dns.WithMetrics(s.metrics),
		dns.WithTracer(s.tracer),
		dns.WithLogger(s.logger.With("component", "dns")),
	)
	s.resolver = dns.NewRegistrar(cfg.DNS.ResolverDir)
	s.hosts = hosts.NewManager(cfg.Hosts.Path, s.logger.With("component", "hosts"))
	s.certs = certs.NewProvider(cfg.HTTPS, s.logger.With("component", "certs"))
	s.procs = process.NewSupervisor(s.logger)
	s.prober = proxy.NewProber(cfg.Readiness, s.logger.With("component", "readiness"))

	coordOpts := []lifecycle.Option{
		lifecycle.WithMetrics(s.metrics),
		lifecycle.WithLogger(s.logger.With("component", "lifecycle")),
	}
	if s.exit != nil {
		coordOpts = append(coordOpts, lifecycle.WithExit(s.exit))
	}
	s.coord = lifecycle.NewCoordinator(lifecycle.Collaborators{
		Processes: s.procs,
		Hosts:     s.hosts,
		Certs:     s.certs,
		DNS:       s.dns,
		Resolver:  s.resolver,
	}, coordOpts...)
	s.coord.SetDefaults(s.cleanupOptions())

	return s
}

// Ports returns the port allocator shared by every instance.
func (s *Server) Ports() *ports.Allocator { return s.ports }

// DNS returns the embedded DNS responder.
func (s *Server) DNS() *dns.Responder { return s.dns }

// Coordinator returns the lifecycle coordinator.
func (s *Server) Coordinator() *lifecycle.Coordinator { return s.coord }

// Instances returns the proxy instances started so far.
func (s *Server) Instances() []*proxy.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.instances)
}

// StartProxy starts a single route.
func (s *Server) StartProxy(ctx context.Context, route config.Route) (*proxy.Instance, error) {
	started, err := s.StartProxies(ctx, []config.Route{route})
	if len(started) == 0 {
		return nil, err
	}
	return started[0], err
}

// StartProxies brings up name resolution, TLS material and dev commands for
// routes, then starts one instance per route concurrently. Routes that fail
// to start are reported in the joined error; the others keep serving.
func (s *Server) StartProxies(ctx context.Context, routes []config.Route) ([]*proxy.Instance, error) {
	if len(routes) == 0 {
		return nil, errors.New("no routes to start")
	}

	domains := config.Domains(config.RouteSet(routes))
	s.adviseTLDs(domains)
	s.trackDomains(domains)
	s.setupResolution(ctx, domains)

	var tlsMaterial *tlsSetup
	if slices.ContainsFunc(routes, func(r config.Route) bool { return r.TLS }) {
		var err error
		tlsMaterial, err = s.setupTLS(ctx, domains)
		if err != nil {
			// Instances requesting TLS fail with ErrTLSMaterialMissing.
			s.logger.Error("TLS setup failed", "domains", domains, "error", err)
		} else if !s.coord.Register(tlsMaterial) {
			tlsMaterial.stop()
		}
	}

	for _, r := range routes {
		s.startCommand(r)
	}

	// Instances belong to the coordinator before they bind anything, so a
	// teardown that fires during startup aborts them.
	instances := make([]*proxy.Instance, len(routes))
	errs := make([]error, len(routes))
	var g errgroup.Group
	for i, r := range routes {
		i := i
		opts := proxy.InstanceOptions{
			Ports:       s.ports,
			PortsConfig: s.config.Ports,
			Prober:      s.prober,
			Transport:   s.transport,
			Metrics:     s.metrics,
			Tracer:      s.tracer,
			Logger:      s.logger,
		}
		if tlsMaterial != nil {
			opts.TLSConfig = tlsMaterial.config
		}
		inst := proxy.NewInstance(r, opts)
		if !s.coord.Register(inst) {
			errs[i] = fmt.Errorf("starting proxy for %s: %w", r.To, lifecycle.ErrCleanupInProgress)
			continue
		}
		g.Go(func() error {
			if err := inst.Start(ctx); err != nil {
				s.coord.Unregister(inst)
				errs[i] = err
				return nil
			}
			instances[i] = inst
			return nil
		})
	}
	_ = g.Wait()

	var started []*proxy.Instance
	for i, inst := range instances {
		if inst == nil {
			continue
		}
		s.track(inst, routes[i])
		started = append(started, inst)
	}

	err := errors.Join(errs...)
	if len(started) == 0 {
		if tlsMaterial != nil {
			s.coord.Unregister(tlsMaterial)
			tlsMaterial.stop()
		}
		return nil, err
	}
	return started, err
}

// Cleanup runs teardown with opts, or joins the one already running.
func (s *Server) Cleanup(ctx context.Context, opts lifecycle.CleanupOptions) *lifecycle.Completion {
	return s.coord.TriggerCleanup(ctx, opts)
}

// DefaultCleanupOptions returns the teardown options derived from the
// configuration and the domains started so far.
func (s *Server) DefaultCleanupOptions() lifecycle.CleanupOptions {
	return s.coord.Defaults()
}

func (s *Server) cleanupOptions() lifecycle.CleanupOptions {
	domains := s.config.Cleanup.Domains
	if len(domains) == 0 {
		domains = s.domains
	}
	return lifecycle.CleanupOptions{
		Domains:      slices.Clone(domains),
		Hosts:        s.config.Cleanup.Hosts && s.config.Hosts.IsManaged(),
		Certs:        s.config.Cleanup.Certs,
		ResolverTLDs: slices.Clone(s.dnsTLDs),
		Embedded:     s.embedded,
	}
}

func (s *Server) trackDomains(domains []string) {
	s.mu.Lock()
	for _, d := range domains {
		if !slices.Contains(s.domains, d) {
			s.domains = append(s.domains, d)
		}
	}
	opts := s.cleanupOptions()
	s.mu.Unlock()
	s.coord.SetDefaults(opts)
}

func (s *Server) track(inst *proxy.Instance, route config.Route) {
	s.mu.Lock()
	s.instances = append(s.instances, inst)
	s.mu.Unlock()

	if s.health != nil {
		name := "upstream:" + route.To
		s.health.Register(name, func(ctx context.Context) error {
			return s.prober.Check(ctx, route.From)
		})
	}

	go func() {
		<-inst.Done()
		s.coord.Unregister(inst)
		if s.health != nil {
			s.health.Unregister("upstream:" + route.To)
		}
		if err := inst.Err(); err != nil {
			s.logger.Error("proxy stopped unexpectedly", "route", route.To, "error", err)
		}
	}()
}

func (s *Server) adviseTLDs(domains []string) {
	for _, d := range domains {
		switch config.ClassifyTLD(d) {
		case config.TLDProblematic:
			s.logger.Warn("TLD is HSTS-preloaded; browsers will force HTTPS for it",
				"domain", d, "tld", config.TLD(d))
		case config.TLDReserved:
			s.logger.Debug("TLD is reserved for local use", "domain", d, "tld", config.TLD(d))
		}
	}
}

// setupResolution makes custom domains resolve to this machine through the
// DNS responder and, as a fallback, the hosts file. Failures are logged.
func (s *Server) setupResolution(ctx context.Context, domains []string) {
	custom := lifecycle.CustomDomains(domains)
	if len(custom) == 0 {
		return
	}

	if s.config.DNS.IsEnabled() {
		s.startDNS(ctx, custom)
	}

	if s.config.Hosts.IsManaged() {
		if err := s.hosts.Add(custom); err != nil {
			s.logger.Warn("could not update hosts file; domains may not resolve",
				"path", s.hosts.Path(), "domains", custom, "error", err)
		}
	}
}

func (s *Server) startDNS(ctx context.Context, custom []string) {
	s.mu.Lock()
	all := lifecycle.CustomDomains(s.domains)
	s.mu.Unlock()

	if err := s.dns.StartContext(ctx, all, s.config.Verbose); err != nil {
		s.logger.Warn("DNS responder unavailable, falling back to hosts file", "error", err)
		return
	}
	if s.health != nil {
		s.health.Register("dns", func(context.Context) error {
			if !s.dns.IsRunning() {
				return errors.New("DNS responder not running")
			}
			return nil
		})
	}

	var tlds []string
	for _, d := range custom {
		if tld := config.TLD(d); !slices.Contains(tlds, tld) {
			tlds = append(tlds, tld)
		}
	}
	if err := s.resolver.Register(tlds, s.config.DNS.Address, s.dns.Port()); err != nil {
		s.logger.Warn("could not register resolver", "tlds", tlds, "error", err)
		return
	}

	s.mu.Lock()
	for _, tld := range tlds {
		if !slices.Contains(s.dnsTLDs, tld) {
			s.dnsTLDs = append(s.dnsTLDs, tld)
		}
	}
	opts := s.cleanupOptions()
	s.mu.Unlock()
	s.coord.SetDefaults(opts)
}

func (s *Server) startCommand(r config.Route) {
	if r.Start == nil || r.Start.Command == "" {
		return
	}
	if _, err := s.procs.Start(r.To, r.Start.Command, r.Start.Cwd, r.Start.Env); err != nil {
		// The upstream may already be running; the readiness probe decides.
		s.logger.Error("failed to start dev command", "route", r.To, "command", r.Start.Command, "error", err)
	}
}

// Run starts every configured route, handles SIGINT/SIGTERM and blocks
// until teardown completes. It returns the teardown error, or the start
// error when no route could be started.
func (s *Server) Run(ctx context.Context) error {
	defer s.coord.Recover()

	stop := s.coord.HandleSignals(ctx)
	defer stop()

	started, err := s.StartProxies(ctx, s.config.RouteSpec().Routes())
	if len(started) == 0 {
		s.logger.Error("no proxy could be started", "error", err)
		opts := s.coord.Defaults()
		opts.Reason = "startup failed"
		opts.ExitCode = 1
		comp := s.Cleanup(context.Background(), opts)
		<-comp.Done()
		return fmt.Errorf("no proxy could be started: %w", err)
	}
	if err != nil {
		s.logger.Warn("some routes failed to start", "error", err)
	}

	for _, inst := range started {
		s.logger.Info("proxy ready", "route", inst.Name(), "url", inst.URL(), "upstream", inst.Route().From)
	}
	if s.onReady != nil {
		s.onReady(started)
	}

	var comp *lifecycle.Completion
	select {
	case <-ctx.Done():
		opts := s.coord.Defaults()
		opts.Reason = "context cancelled"
		comp = s.Cleanup(context.Background(), opts)
	case <-s.coord.Triggered():
		comp = s.coord.Last()
	case <-s.allStopped(started):
		// Listeners also stop during a teardown; join it instead of
		// starting another.
		if comp = s.coord.Last(); comp == nil {
			opts := s.coord.Defaults()
			opts.Reason = "listeners stopped"
			comp = s.Cleanup(context.Background(), opts)
		}
	}
	return comp.Wait(context.Background())
}

// allStopped is closed once every instance has stopped serving.
func (s *Server) allStopped(instances []*proxy.Instance) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for _, inst := range instances {
			<-inst.Done()
		}
		close(done)
	}()
	return done
}
