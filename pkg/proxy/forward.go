package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"
	"stacks-dev/rpx/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel/trace"
)

// maxReplayBody bounds the request body buffered so clean-URL fallbacks can
// resend it. Larger bodies are streamed and fallbacks are skipped.
const maxReplayBody = 10 << 20

type replayKey struct{}

// Forwarder relays requests for one route to its upstream dev server.
type Forwarder struct {
	route    config.Route
	upstream *url.URL
	proxy    *httputil.ReverseProxy

	metrics *metrics.Collector
	tracer  *tracing.Tracer
	logger  *slog.Logger
}

// ForwarderOptions carries the optional collaborators of a Forwarder.
type ForwarderOptions struct {
	Transport http.RoundTripper
	Metrics   *metrics.Collector
	Tracer    *tracing.Tracer
	Logger    *slog.Logger
}

// NewForwarder builds the relay for route.
func NewForwarder(route config.Route, opts ForwarderOptions) (*Forwarder, error) {
	hostPort := config.UpstreamHostPort(route.From)
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", route.From, err)
	}
	upstream := &url.URL{Scheme: config.UpstreamScheme(route.From), Host: hostPort}

	f := &Forwarder{
		route:    route,
		upstream: upstream,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
	}
	if f.logger == nil {
		f.logger = slog.Default().With("component", "proxy", "route", route.To)
	}

	transport := opts.Transport
	if transport == nil {
		transport = newUpstreamTransport(upstream)
	}

	f.proxy = &httputil.ReverseProxy{
		Rewrite:        f.rewrite,
		Transport:      &fallbackTransport{base: transport, forwarder: f},
		FlushInterval:  -1,
		ModifyResponse: f.modifyResponse,
		ErrorHandler:   f.handleError,
		ErrorLog:       slog.NewLogLogger(f.logger.Handler(), slog.LevelDebug),
	}
	return f, nil
}

// newUpstreamTransport returns a transport for loopback dev servers. The
// environment proxy is ignored and self-signed upstream certificates are
// accepted for loopback hosts only.
func newUpstreamTransport(upstream *url.URL) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: config.IsLoopbackDomain(upstream.Hostname()), //nolint:gosec // local dev servers use self-signed certificates
		},
	}
}

// Upstream returns the upstream base URL.
func (f *Forwarder) Upstream() *url.URL {
	u := *f.upstream
	return &u
}

// ServeHTTP relays one request.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	StripPseudoHeaders(r.Header)

	if f.route.CleanURLs && !isUpgrade(r) && r.ContentLength <= maxReplayBody {
		replay, err := bufferBody(r)
		if err != nil {
			f.handleError(w, r, err)
			return
		}
		if replay {
			r = r.WithContext(context.WithValue(r.Context(), replayKey{}, true))
		}
	}

	ctx, span := f.tracer.Start(r.Context(), "proxy.forward", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	tracing.SetRouteAttributes(span, f.route.To, f.upstream.Host)

	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	f.proxy.ServeHTTP(rw, r.WithContext(ctx))

	tracing.SetStatusAttribute(span, rw.status)
	f.metrics.RecordRequest(f.route.To, r.Method, rw.status, time.Since(start))
}

// rewrite prepares the outbound request: clean-URL path, Host header,
// forwarding headers and trace context.
func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(f.upstream)
	pr.SetXForwarded()

	if f.route.ChangeOrigin {
		pr.Out.Host = f.upstream.Host
	} else {
		pr.Out.Host = pr.In.Host
	}

	if f.route.CleanURLs && !isUpgrade(pr.In) {
		rewritten := RewriteCleanURL(pr.Out.URL.Path)
		if rewritten != pr.Out.URL.Path {
			f.logger.Debug("clean URL rewrite", "path", pr.Out.URL.Path, "rewritten", rewritten)
			pr.Out.URL.Path = rewritten
			pr.Out.URL.RawPath = ""
		}
	}

	StripPseudoHeaders(pr.Out.Header)
	tracing.Inject(pr.Out.Context(), pr.Out.Header)
}

func (f *Forwarder) modifyResponse(resp *http.Response) error {
	AddSecurityHeaders(resp.Header)
	return nil
}

// handleError answers a failed relay with 502. The error is never retried
// here.
func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ferr := &ForwardingError{Upstream: f.upstream.Host, Err: err}
	f.logger.WarnContext(r.Context(), "proxy request failed", "error", ferr, "path", r.URL.Path)
	f.metrics.RecordUpstreamError(f.route.To)
	tracing.SetError(trace.SpanFromContext(r.Context()), ferr)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = fmt.Fprintf(w, "Proxy Error: %v", err)
}

// fallbackTransport retries clean-URL 404s against alternate paths, one at
// a time, and returns the first 200. When none succeeds the original 404 is
// returned untouched.
type fallbackTransport struct {
	base      http.RoundTripper
	forwarder *Forwarder
}

func (t *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusNotFound {
		return resp, err
	}
	if replay, _ := req.Context().Value(replayKey{}).(bool); !replay {
		return resp, nil
	}

	f := t.forwarder
	for _, alt := range FallbackPaths(req.URL.Path) {
		altReq, err := cloneWithPath(req, alt)
		if err != nil {
			break
		}
		altResp, err := t.base.RoundTrip(altReq)
		if err != nil {
			f.logger.Debug("clean URL alternate failed", "path", alt, "error", err)
			continue
		}
		if altResp.StatusCode == http.StatusOK {
			f.logger.Debug("clean URL alternate matched", "path", alt)
			drain(resp)
			f.metrics.RecordCleanURLFallback(f.route.To, true)
			tracing.SetFallbackAttributes(trace.SpanFromContext(req.Context()), alt, true)
			return altResp, nil
		}
		drain(altResp)
	}

	f.metrics.RecordCleanURLFallback(f.route.To, false)
	tracing.SetFallbackAttributes(trace.SpanFromContext(req.Context()), req.URL.Path, false)
	return resp, nil
}

func cloneWithPath(req *http.Request, path string) (*http.Request, error) {
	alt := req.Clone(req.Context())
	alt.URL.Path = path
	alt.URL.RawPath = ""
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		alt.Body = body
	}
	return alt, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// bufferBody reads the request body into memory so it can be replayed. A
// body larger than maxReplayBody is relayed as is and reports false.
func bufferBody(r *http.Request) (bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return true, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody+1))
	if err != nil {
		r.Body.Close()
		return false, fmt.Errorf("reading request body: %w", err)
	}
	if len(data) > maxReplayBody {
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), r.Body), r.Body}
		return false, nil
	}
	r.Body.Close()
	r.ContentLength = int64(len(data))
	r.Body = io.NopCloser(bytes.NewReader(data))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return true, nil
}

func isUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// statusWriter records the final status while keeping Flush and Hijack
// reachable through Unwrap.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = code >= 200 || code == http.StatusSwitchingProtocols
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
