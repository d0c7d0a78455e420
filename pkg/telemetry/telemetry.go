package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/health"
	"stacks-dev/rpx/pkg/telemetry/logging"
	"stacks-dev/rpx/pkg/telemetry/metrics"
	"stacks-dev/rpx/pkg/telemetry/tracing"
)

// BuildInfo is reported on /version and as the tracing service version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Telemetry owns the logger, metrics collector, tracer and health checker.
type Telemetry struct {
	config *config.TelemetryConfig
	build  BuildInfo

	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
	health  *health.Checker
}

// New builds every telemetry component from configuration and installs the
// logger as the slog default.
func New(cfg *config.TelemetryConfig, build BuildInfo) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is nil")
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	tracer, err := tracing.New(&cfg.Tracing, tracing.WithServiceVersion(build.Version))
	if err != nil {
		return nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	return &Telemetry{
		config:  cfg,
		build:   build,
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
		health:  health.New(0),
	}, nil
}

// Logger returns the configured logger.
func (t *Telemetry) Logger() *slog.Logger { return t.logger }

// Metrics returns the metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Health returns the health checker.
func (t *Telemetry) Health() *health.Checker { return t.health }

// Handler returns the telemetry mux: /metrics plus the health endpoints.
func (t *Telemetry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.metrics.Handler())
	health.Mount(mux, t.health, t.build.Version, t.build.Commit, t.build.BuildDate)
	return mux
}

// Serve runs the telemetry listener until ctx is cancelled. It returns nil
// immediately when no listen address is configured.
func (t *Telemetry) Serve(ctx context.Context) error {
	if t.config.Listen == "" {
		return nil
	}

	ln, err := net.Listen("tcp", t.config.Listen)
	if err != nil {
		return fmt.Errorf("telemetry listener on %s: %w", t.config.Listen, err)
	}

	srv := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	t.logger.Info("telemetry listener started", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracer.Shutdown(ctx)
}
