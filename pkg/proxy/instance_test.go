package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"stacks-dev/rpx/pkg/config"
)

// fakePorts refuses every Claim and hands out ephemeral ports on Reserve.
// It records what the instance asked for.
type fakePorts struct {
	mu           sync.Mutex
	claims       []int
	starts       []int
	connectivity []bool
	released     []int
	err          error
}

func (f *fakePorts) Reserve(ctx context.Context, start int, testConnectivity bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, start)
	f.connectivity = append(f.connectivity, testConnectivity)
	if f.err != nil {
		return 0, f.err
	}
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (f *fakePorts) Claim(ctx context.Context, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, port)
	return false
}

func (f *fakePorts) Release(port int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, port)
}

func (f *fakePorts) snapshot() (claims, starts []int, connectivity []bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.claims), slices.Clone(f.starts), slices.Clone(f.connectivity)
}

func testPortsConfig() config.PortsConfig {
	return config.PortsConfig{HTTPSFallback: 3443, HTTPFallbackOffset: 1000}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUnconfigured:  "unconfigured",
		StateResolvingPort: "resolving_port",
		StateListening:     "listening",
		StateServing:       "serving",
		StateShuttingDown:  "shutting_down",
		StateClosed:        "closed",
		State(42):          "unknown(42)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestInstance_ServeHTTP(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello from "+r.Host)
	}))
	defer upstream.Close()

	ports := &fakePorts{}
	inst := NewInstance(config.Route{From: upstream.Listener.Addr().String(), To: "app.localhost"}, InstanceOptions{
		Ports:       ports,
		PortsConfig: testPortsConfig(),
		Prober:      NewProber(fastReadiness(), nil),
	})

	if got := inst.State(); got != StateUnconfigured {
		t.Fatalf("State() = %v, want %v", got, StateUnconfigured)
	}
	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := inst.State(); got != StateServing {
		t.Fatalf("State() = %v, want %v", got, StateServing)
	}
	if len(ports.starts) != 1 || ports.starts[0] != 1080 {
		t.Errorf("Reserve starts = %v, want [1080]", ports.starts)
	}

	port := inst.Port()
	if want := "http://app.localhost:" + strconv.Itoa(port); inst.URL() != want {
		t.Errorf("URL() = %q, want %q", inst.URL(), want)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:"+strconv.Itoa(port)+"/", nil)
	req.Host = "app.localhost"
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if string(body) != "hello from app.localhost" {
		t.Errorf("body = %q, want %q", body, "hello from app.localhost")
	}
	if resp.Header.Get(HeaderHSTS) == "" || resp.Header.Get(HeaderContentTypeOpts) != "nosniff" {
		t.Errorf("security headers missing: %v", resp.Header)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := inst.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	select {
	case <-inst.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Shutdown")
	}
	if len(ports.released) != 1 || ports.released[0] != port {
		t.Errorf("released = %v, want [%d]", ports.released, port)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestInstance_TLS(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	defer upstream.Close()

	// Borrow the httptest certificate, valid for 127.0.0.1.
	certSource := httptest.NewTLSServer(http.NotFoundHandler())
	defer certSource.Close()

	ports := &fakePorts{}
	inst := NewInstance(config.Route{From: upstream.Listener.Addr().String(), To: "app.localhost", TLS: true}, InstanceOptions{
		Ports:       ports,
		PortsConfig: testPortsConfig(),
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: certSource.TLS.Certificates,
		},
	})

	if err := inst.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer inst.Shutdown(context.Background())

	if len(ports.starts) != 1 || ports.starts[0] != 3443 {
		t.Errorf("Reserve starts = %v, want [3443]", ports.starts)
	}

	resp, err := certSource.Client().Get("https://127.0.0.1:" + strconv.Itoa(inst.Port()) + "/")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "secure" {
		t.Errorf("body = %q, want %q", body, "secure")
	}
	if resp.TLS == nil {
		t.Error("response was not served over TLS")
	}
}

func TestInstance_TLSMaterialMissing(t *testing.T) {
	inst := NewInstance(config.Route{From: "127.0.0.1:5173", To: "app.localhost", TLS: true}, InstanceOptions{
		Ports:       &fakePorts{},
		PortsConfig: testPortsConfig(),
	})

	err := inst.Start(context.Background())
	if !errors.Is(err, ErrTLSMaterialMissing) {
		t.Fatalf("Start() error = %v, want ErrTLSMaterialMissing", err)
	}
	if got := inst.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if err := inst.Start(context.Background()); !errors.Is(err, ErrInstanceClosed) {
		t.Errorf("second Start() error = %v, want ErrInstanceClosed", err)
	}
}

func TestInstance_PortExhaustion(t *testing.T) {
	exhausted := errors.New("no free port")
	inst := NewInstance(config.Route{From: "127.0.0.1:5173", To: "app.localhost"}, InstanceOptions{
		Ports:       &fakePorts{err: exhausted},
		PortsConfig: testPortsConfig(),
	})

	if err := inst.Start(context.Background()); !errors.Is(err, exhausted) {
		t.Fatalf("Start() error = %v, want %v", err, exhausted)
	}
	select {
	case <-inst.Done():
	default:
		t.Error("Done() not closed after failed Start")
	}
}

func TestInstance_ShutdownBeforeStart(t *testing.T) {
	inst := NewInstance(config.Route{From: "127.0.0.1:5173", To: "app.localhost"}, InstanceOptions{Ports: &fakePorts{}})

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := inst.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if got := inst.URL(); got != "http://app.localhost" {
		t.Errorf("URL() = %q, want %q", got, "http://app.localhost")
	}
}

func TestInstance_PortSelection(t *testing.T) {
	certSource := httptest.NewTLSServer(http.NotFoundHandler())
	defer certSource.Close()

	tests := []struct {
		name       string
		tls        bool
		wantClaims []int
		wantStart  int
	}{
		{"plain route falls back from 80 to 1080", false, []int{80}, 1080},
		{"TLS route falls back from 443 to 3443", true, []int{443, 80}, 3443},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ports := &fakePorts{}
			opts := InstanceOptions{Ports: ports, PortsConfig: testPortsConfig()}
			if tt.tls {
				opts.TLSConfig = &tls.Config{Certificates: certSource.TLS.Certificates}
			}
			inst := NewInstance(config.Route{From: "127.0.0.1:5173", To: "app.localhost", TLS: tt.tls}, opts)
			if err := inst.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			defer inst.Shutdown(context.Background())

			claims, starts, connectivity := ports.snapshot()
			if !reflect.DeepEqual(claims, tt.wantClaims) {
				t.Errorf("claims = %v, want %v", claims, tt.wantClaims)
			}
			if !reflect.DeepEqual(starts, []int{tt.wantStart}) {
				t.Errorf("Reserve starts = %v, want [%d]", starts, tt.wantStart)
			}
			if !reflect.DeepEqual(connectivity, []bool{true}) {
				t.Errorf("Reserve testConnectivity = %v, want [true]", connectivity)
			}
			if err := inst.Start(context.Background()); !errors.Is(err, ErrInstanceStarted) {
				t.Errorf("second Start() error = %v, want ErrInstanceStarted", err)
			}
		})
	}
}

func TestInstance_ShutdownDuringStartup(t *testing.T) {
	ports := &fakePorts{}
	// Nothing listens on port 1, so Start waits in the readiness probe.
	prober := NewProber(config.ReadinessConfig{
		Retries:     100,
		DialTimeout: 50 * time.Millisecond,
		HeadTimeout: 50 * time.Millisecond,
		Interval:    100 * time.Millisecond,
		Timeout:     20 * time.Second,
	}, nil)
	inst := NewInstance(config.Route{From: "127.0.0.1:1", To: "app.localhost"}, InstanceOptions{
		Ports:       ports,
		PortsConfig: testPortsConfig(),
		Prober:      prober,
	})

	started := make(chan error, 1)
	go func() { started <- inst.Start(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for inst.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, never reached listening", inst.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	port := inst.Port()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := inst.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-started:
		if !errors.Is(err, ErrInstanceClosed) {
			t.Errorf("Start() error = %v, want ErrInstanceClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Shutdown")
	}

	if got := inst.State(); got != StateClosed {
		t.Errorf("State() = %v, want %v", got, StateClosed)
	}
	if conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 200*time.Millisecond); err == nil {
		conn.Close()
		t.Errorf("port %d still accepts connections after Shutdown", port)
	}
	ports.mu.Lock()
	released := slices.Clone(ports.released)
	ports.mu.Unlock()
	if !slices.Contains(released, port) {
		t.Errorf("released = %v, want %d", released, port)
	}
}
