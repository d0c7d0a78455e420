package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"stacks-dev/rpx/pkg/config"

	"golang.org/x/sync/singleflight"
)

// Prober waits for upstream dev servers to accept connections. Concurrent
// waits on the same upstream share one probe loop.
type Prober struct {
	cfg    config.ReadinessConfig
	group  singleflight.Group
	client *http.Client
	logger *slog.Logger
}

// NewProber creates a readiness prober.
func NewProber(cfg config.ReadinessConfig, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default().With("component", "readiness")
	}
	return &Prober{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HeadTimeout,
			Transport: &http.Transport{
				Proxy:           nil,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // probing loopback dev servers
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// WaitReady blocks until from answers a TCP dial or an HTTP HEAD, or the
// retry budget is spent. The returned error wraps ErrConnectivityTimeout;
// callers treat it as a warning.
func (p *Prober) WaitReady(ctx context.Context, from string) error {
	if p.cfg.Bypass {
		p.logger.Debug("readiness probe bypassed", "upstream", from)
		return nil
	}

	hostPort := config.UpstreamHostPort(from)
	ch := p.group.DoChan(hostPort, func() (any, error) {
		return nil, p.probe(ctx, from, hostPort)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrConnectivityTimeout, hostPort, ctx.Err())
	}
}

// Check performs a single dial probe. It is used as a health check.
func (p *Prober) Check(ctx context.Context, from string) error {
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", config.UpstreamHostPort(from))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *Prober) probe(ctx context.Context, from, hostPort string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	headURL := (&url.URL{Scheme: config.UpstreamScheme(from), Host: hostPort, Path: "/"}).String()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		lastErr = p.Check(ctx, from)
		if lastErr == nil {
			p.logger.Debug("upstream reachable", "upstream", hostPort, "attempt", attempt)
			return nil
		}

		// Some dev servers answer HTTP before bare handshakes settle.
		lastErr = p.head(ctx, headURL)
		if lastErr == nil {
			p.logger.Debug("upstream answered HEAD", "upstream", hostPort, "attempt", attempt)
			return nil
		}

		p.logger.Debug("upstream not ready", "upstream", hostPort, "attempt", attempt, "error", lastErr)
		if attempt == p.cfg.Retries {
			break
		}

		t := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectivityTimeout, hostPort, attempt, ctx.Err())
		case <-t.C:
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectivityTimeout, hostPort, p.cfg.Retries, lastErr)
}

func (p *Prober) head(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}
