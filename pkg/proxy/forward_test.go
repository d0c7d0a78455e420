package proxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingUpstream serves fixed statuses per path and records what it saw.
type recordingUpstream struct {
	mu       sync.Mutex
	paths    []string
	hosts    []string
	bodies   []string
	status   map[string]int
	fallback int
}

func (u *recordingUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	u.mu.Lock()
	u.paths = append(u.paths, r.URL.Path)
	u.hosts = append(u.hosts, r.Host)
	u.bodies = append(u.bodies, string(body))
	status, ok := u.status[r.URL.Path]
	u.mu.Unlock()

	if !ok {
		status = u.fallback
	}
	w.Header().Set("X-Upstream-Path", r.URL.Path)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, r.Method+" "+r.URL.RequestURI()+" "+string(body))
}

func (u *recordingUpstream) seenPaths() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.paths...)
}

func (u *recordingUpstream) seenHosts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.hosts...)
}

func (u *recordingUpstream) seenBodies() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.bodies...)
}

func newTestForwarder(t *testing.T, route config.Route, m *metrics.Collector) *Forwarder {
	t.Helper()
	fwd, err := NewForwarder(route, ForwarderOptions{Metrics: m})
	if err != nil {
		t.Fatalf("NewForwarder() error = %v", err)
	}
	return fwd
}

func TestForwarder_RelaysRequest(t *testing.T) {
	up := &recordingUpstream{fallback: http.StatusOK}
	ts := httptest.NewServer(up)
	defer ts.Close()

	fwd := newTestForwarder(t, config.Route{From: ts.Listener.Addr().String(), To: "app.localhost"}, nil)

	req := httptest.NewRequest(http.MethodPost, "http://app.localhost/api/items?limit=5", strings.NewReader(`{"name":"x"}`))
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got, want := rec.Body.String(), `POST /api/items?limit=5 {"name":"x"}`; got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if got := rec.Header().Get(HeaderHSTS); got != "max-age=31536000; includeSubDomains; preload" {
		t.Errorf("%s = %q", HeaderHSTS, got)
	}
	if got := rec.Header().Get(HeaderContentTypeOpts); got != "nosniff" {
		t.Errorf("%s = %q, want nosniff", HeaderContentTypeOpts, got)
	}
	if hosts := up.seenHosts(); len(hosts) != 1 || hosts[0] != "app.localhost" {
		t.Errorf("upstream Host = %v, want [app.localhost]", hosts)
	}
}

func TestForwarder_ChangeOrigin(t *testing.T) {
	up := &recordingUpstream{fallback: http.StatusOK}
	ts := httptest.NewServer(up)
	defer ts.Close()

	upstream := ts.Listener.Addr().String()
	fwd := newTestForwarder(t, config.Route{From: upstream, To: "app.localhost", ChangeOrigin: true}, nil)

	fwd.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://app.localhost/", nil))

	if hosts := up.seenHosts(); len(hosts) != 1 || hosts[0] != upstream {
		t.Errorf("upstream Host = %v, want [%s]", hosts, upstream)
	}
}

func TestForwarder_CleanURLFallback(t *testing.T) {
	up := &recordingUpstream{
		status:   map[string]int{"/about.html": http.StatusNotFound, "/about": http.StatusOK},
		fallback: http.StatusNotFound,
	}
	ts := httptest.NewServer(up)
	defer ts.Close()

	m := metrics.NewCollector(&config.MetricsConfig{Namespace: "test"}, nil)
	fwd := newTestForwarder(t, config.Route{From: ts.Listener.Addr().String(), To: "app.localhost", CleanURLs: true}, m)

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://app.localhost/about", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("X-Upstream-Path"); got != "/about" {
		t.Errorf("served path = %q, want /about", got)
	}
	if got := rec.Body.String(); got != "GET /about " {
		t.Errorf("body = %q, want %q", got, "GET /about ")
	}
	if got := rec.Header().Get(HeaderContentTypeOpts); got != "nosniff" {
		t.Errorf("%s = %q, want nosniff", HeaderContentTypeOpts, got)
	}

	paths := up.seenPaths()
	if len(paths) != 2 || paths[0] != "/about.html" || paths[1] != "/about" {
		t.Errorf("upstream paths = %v, want [/about.html /about]", paths)
	}

	expected := `
# HELP test_proxy_clean_url_fallbacks_total Total number of clean-URL 404 fallback sequences by result
# TYPE test_proxy_clean_url_fallbacks_total counter
test_proxy_clean_url_fallbacks_total{result="hit",route="app.localhost"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_proxy_clean_url_fallbacks_total"); err != nil {
		t.Error(err)
	}
}

func TestForwarder_CleanURLFallbackExhausted(t *testing.T) {
	up := &recordingUpstream{fallback: http.StatusNotFound}
	ts := httptest.NewServer(up)
	defer ts.Close()

	fwd := newTestForwarder(t, config.Route{From: ts.Listener.Addr().String(), To: "app.localhost", CleanURLs: true}, nil)

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://app.localhost/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if got := rec.Header().Get("X-Upstream-Path"); got != "/missing.html" {
		t.Errorf("served path = %q, want the original /missing.html response", got)
	}

	want := []string{"/missing.html", "/missing", "/missing/index.html"}
	paths := up.seenPaths()
	if len(paths) != len(want) {
		t.Fatalf("upstream paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestForwarder_CleanURLReplaysBody(t *testing.T) {
	up := &recordingUpstream{
		status:   map[string]int{"/form.html": http.StatusNotFound, "/form": http.StatusOK},
		fallback: http.StatusNotFound,
	}
	ts := httptest.NewServer(up)
	defer ts.Close()

	fwd := newTestForwarder(t, config.Route{From: ts.Listener.Addr().String(), To: "app.localhost", CleanURLs: true}, nil)

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://app.localhost/form", strings.NewReader("a=1")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if bodies := up.seenBodies(); len(bodies) != 2 || bodies[0] != "a=1" || bodies[1] != "a=1" {
		t.Errorf("upstream bodies = %q, want the body sent twice", bodies)
	}
}

func TestForwarder_CleanURLKeepsExtensions(t *testing.T) {
	up := &recordingUpstream{fallback: http.StatusNotFound}
	ts := httptest.NewServer(up)
	defer ts.Close()

	fwd := newTestForwarder(t, config.Route{From: ts.Listener.Addr().String(), To: "app.localhost"}, nil)

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://app.localhost/about", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if paths := up.seenPaths(); len(paths) != 1 || paths[0] != "/about" {
		t.Errorf("upstream paths = %v, want [/about] with clean URLs off", paths)
	}
}

func TestForwarder_UpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	m := metrics.NewCollector(&config.MetricsConfig{Namespace: "test"}, nil)
	fwd := newTestForwarder(t, config.Route{From: addr, To: "app.localhost"}, m)

	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://app.localhost/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if !strings.HasPrefix(rec.Body.String(), "Proxy Error: ") {
		t.Errorf("body = %q, want Proxy Error prefix", rec.Body.String())
	}

	expected := `
# HELP test_proxy_upstream_errors_total Total number of forwarding failures answered with 502
# TYPE test_proxy_upstream_errors_total counter
test_proxy_upstream_errors_total{route="app.localhost"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "test_proxy_upstream_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestNewForwarder_InvalidUpstream(t *testing.T) {
	if _, err := NewForwarder(config.Route{From: "no-port", To: "app.localhost"}, ForwarderOptions{}); err == nil {
		t.Error("NewForwarder() error = nil, want error for upstream without port")
	}
}

func TestStripPseudoHeaders(t *testing.T) {
	h := http.Header{}
	h[":method"] = []string{"GET"}
	h[":path"] = []string{"/"}
	h.Set("Accept", "text/html")

	StripPseudoHeaders(h)

	if len(h) != 1 || h.Get("Accept") != "text/html" {
		t.Errorf("headers = %v, want only Accept", h)
	}
}
