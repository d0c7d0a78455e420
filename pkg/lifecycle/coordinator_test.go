package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"stacks-dev/rpx/pkg/config"
	"stacks-dev/rpx/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeHosts struct {
	calls   atomic.Int32
	block   chan struct{}
	err     error
	mu      sync.Mutex
	domains []string
}

func (f *fakeHosts) Remove(domains []string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.domains = append(f.domains, domains...)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.err
}

type fakeCerts struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCerts) Cleanup(domain string) error {
	f.calls.Add(1)
	return f.err
}

type fakeProcesses struct{ calls atomic.Int32 }

func (f *fakeProcesses) StopAll(ctx context.Context) error {
	f.calls.Add(1)
	return nil
}

type fakeDNS struct{ stopped atomic.Bool }

func (f *fakeDNS) Stop() { f.stopped.Store(true) }

type fakeResolver struct {
	mu   sync.Mutex
	tlds []string
}

func (f *fakeResolver) Unregister(tlds []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tlds = append(f.tlds, tlds...)
	return nil
}

type fakeListener struct {
	name   string
	closed atomic.Bool
	err    error
}

func (f *fakeListener) Name() string { return f.name }

func (f *fakeListener) Shutdown(ctx context.Context) error {
	f.closed.Store(true)
	return f.err
}

func noExit(t *testing.T) Option {
	return WithExit(func(code int) {
		t.Errorf("exit(%d) called for embedded cleanup", code)
	})
}

func waitFor(t *testing.T, comp *Completion) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := comp.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("cleanup did not complete")
	}
	return err
}

func TestCoordinator_SingleFlight(t *testing.T) {
	hosts := &fakeHosts{block: make(chan struct{})}
	certs := &fakeCerts{}
	c := NewCoordinator(Collaborators{Hosts: hosts, Certs: certs}, noExit(t))

	opts := CleanupOptions{Domains: []string{"app.test"}, Hosts: true, Certs: true, Embedded: true}

	first := c.TriggerCleanup(context.Background(), opts)
	second := c.TriggerCleanup(context.Background(), opts)
	if first != second {
		t.Fatal("concurrent TriggerCleanup calls returned different completions")
	}

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if comp := c.TriggerCleanup(context.Background(), opts); comp != first {
				t.Error("racing TriggerCleanup returned a different completion")
			}
		}()
	}
	wg.Wait()

	if !c.InProgress() {
		t.Error("InProgress() = false while hosts removal is blocked")
	}
	close(hosts.block)

	if err := waitFor(t, first); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	<-second.Done()

	if got := hosts.calls.Load(); got != 1 {
		t.Errorf("hosts removal calls = %d, want 1", got)
	}
	if got := certs.calls.Load(); got != 1 {
		t.Errorf("cert cleanup calls = %d, want 1", got)
	}
	if c.InProgress() {
		t.Error("InProgress() = true after completion")
	}
}

func TestCoordinator_RunsAgainAfterCompletion(t *testing.T) {
	hosts := &fakeHosts{}
	c := NewCoordinator(Collaborators{Hosts: hosts}, noExit(t))
	opts := CleanupOptions{Domains: []string{"app.test"}, Hosts: true, Embedded: true}

	first := c.TriggerCleanup(context.Background(), opts)
	waitFor(t, first)
	second := c.TriggerCleanup(context.Background(), opts)
	waitFor(t, second)

	if first == second {
		t.Error("completed cleanup was reused")
	}
	if got := hosts.calls.Load(); got != 2 {
		t.Errorf("hosts removal calls = %d, want 2", got)
	}
}

func TestCoordinator_AllSteps(t *testing.T) {
	procs := &fakeProcesses{}
	hosts := &fakeHosts{}
	certs := &fakeCerts{}
	dns := &fakeDNS{}
	resolver := &fakeResolver{}
	l1, l2 := &fakeListener{name: "a.test"}, &fakeListener{name: "b.test"}

	m := metrics.NewCollector(&config.MetricsConfig{Namespace: "test"}, nil)
	c := NewCoordinator(Collaborators{
		Processes: procs,
		Hosts:     hosts,
		Certs:     certs,
		DNS:       dns,
		Resolver:  resolver,
	}, noExit(t), WithMetrics(m))
	c.Register(l1)
	c.Register(l2)

	err := waitFor(t, c.TriggerCleanup(context.Background(), CleanupOptions{
		Domains:      []string{"app.localhost", "a.test", "127.0.0.1", "b.test"},
		Hosts:        true,
		Certs:        true,
		ResolverTLDs: []string{"test"},
		Embedded:     true,
	}))
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if procs.calls.Load() != 1 {
		t.Error("processes were not stopped")
	}
	if !l1.closed.Load() || !l2.closed.Load() {
		t.Error("listeners were not closed")
	}
	if len(c.Listeners()) != 0 {
		t.Errorf("Listeners() = %d after cleanup, want 0", len(c.Listeners()))
	}
	if !reflect.DeepEqual(hosts.domains, []string{"a.test", "b.test"}) {
		t.Errorf("hosts removed = %v, want only custom domains", hosts.domains)
	}
	if got := certs.calls.Load(); got != 4 {
		t.Errorf("cert cleanup calls = %d, want 4", got)
	}
	if !dns.stopped.Load() {
		t.Error("DNS responder was not stopped")
	}
	if !reflect.DeepEqual(resolver.tlds, []string{"test"}) {
		t.Errorf("resolver unregistered = %v, want [test]", resolver.tlds)
	}

	expected := `
# HELP test_lifecycle_active_listeners Number of listeners currently owned by the coordinator
# TYPE test_lifecycle_active_listeners gauge
test_lifecycle_active_listeners 0
# HELP test_lifecycle_cleanup_runs_total Total number of teardown sequences executed
# TYPE test_lifecycle_cleanup_runs_total counter
test_lifecycle_cleanup_runs_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"test_lifecycle_active_listeners", "test_lifecycle_cleanup_runs_total"); err != nil {
		t.Error(err)
	}
}

func TestCoordinator_LoopbackOnlySkipsHosts(t *testing.T) {
	hosts := &fakeHosts{}
	c := NewCoordinator(Collaborators{Hosts: hosts}, noExit(t))

	waitFor(t, c.TriggerCleanup(context.Background(), CleanupOptions{
		Domains:  []string{"localhost", "app.localhost", "127.0.0.1"},
		Hosts:    true,
		Embedded: true,
	}))

	if got := hosts.calls.Load(); got != 0 {
		t.Errorf("hosts removal calls = %d, want 0 for loopback domains", got)
	}
}

func TestCoordinator_PartialFailure(t *testing.T) {
	hostsErr := errors.New("permission denied")
	listenerErr := errors.New("close failed")
	certs := &fakeCerts{}
	listener := &fakeListener{name: "app.test", err: listenerErr}

	c := NewCoordinator(Collaborators{Hosts: &fakeHosts{err: hostsErr}, Certs: certs}, noExit(t))
	c.Register(listener)

	err := waitFor(t, c.TriggerCleanup(context.Background(), CleanupOptions{
		Domains:  []string{"app.test"},
		Hosts:    true,
		Certs:    true,
		Embedded: true,
	}))

	var cerr *CleanupError
	if !errors.As(err, &cerr) {
		t.Fatalf("Wait() error = %v, want *CleanupError", err)
	}
	if got, want := cerr.Steps(), []string{"hosts", "listeners"}; !reflect.DeepEqual(got, want) {
		t.Errorf("failed steps = %v, want %v", got, want)
	}
	if !errors.Is(err, hostsErr) || !errors.Is(err, listenerErr) {
		t.Errorf("error %v does not wrap the step errors", err)
	}
	if certs.calls.Load() != 1 {
		t.Error("cert cleanup skipped after a sibling step failed")
	}
}

func TestCoordinator_Exit(t *testing.T) {
	tests := []struct {
		name     string
		hostsErr error
		want     int
	}{
		{"clean teardown", nil, 0},
		{"failed step", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := make(chan int, 1)
			c := NewCoordinator(Collaborators{Hosts: &fakeHosts{err: tt.hostsErr}},
				WithExit(func(code int) { codes <- code }))

			c.TriggerCleanup(context.Background(), CleanupOptions{Domains: []string{"app.test"}, Hosts: true})

			select {
			case code := <-codes:
				if code != tt.want {
					t.Errorf("exit code = %d, want %d", code, tt.want)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("exit not called")
			}
		})
	}
}

func TestCoordinator_SecondSignalExits(t *testing.T) {
	hosts := &fakeHosts{block: make(chan struct{})}
	codes := make(chan int, 2)
	c := NewCoordinator(Collaborators{Hosts: hosts},
		WithExit(func(code int) { codes <- code }),
		WithDefaults(CleanupOptions{Domains: []string{"app.test"}, Hosts: true}))

	c.handleSignal(context.Background(), syscall.SIGINT)
	if !c.InProgress() {
		t.Fatal("first signal did not start cleanup")
	}

	c.handleSignal(context.Background(), syscall.SIGINT)
	select {
	case code := <-codes:
		if code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not exit")
	}

	close(hosts.block)
	select {
	case code := <-codes:
		if code != 0 {
			t.Errorf("exit code after cleanup = %d, want 0", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup did not finish")
	}
}

func TestCoordinator_Recover(t *testing.T) {
	codes := make(chan int, 1)
	c := NewCoordinator(Collaborators{}, WithExit(func(code int) { codes <- code }))

	func() {
		defer c.Recover()
		panic("boom")
	}()

	select {
	case code := <-codes:
		if code != 1 {
			t.Errorf("exit code = %d, want 1", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit not called after fault")
	}
}

func TestCustomDomains(t *testing.T) {
	got := CustomDomains([]string{"localhost", "app.localhost", "127.0.0.1", "app.test", "example.com"})
	want := []string{"app.test", "example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CustomDomains() = %v, want %v", got, want)
	}
}

func TestCleanupError(t *testing.T) {
	err := &CleanupError{Failures: map[string]error{"hosts": errors.New("denied")}}
	if got := err.Error(); got != "cleanup step hosts failed: denied" {
		t.Errorf("Error() = %q", got)
	}

	multi := &CleanupError{Failures: map[string]error{"hosts": errors.New("a"), "certs": errors.New("b")}}
	if got := multi.Error(); !strings.HasPrefix(got, "2 cleanup steps failed:") || strings.Index(got, "certs") > strings.Index(got, "hosts") {
		t.Errorf("Error() = %q, want sorted steps", got)
	}
}

func TestCoordinator_RegisterRefusedDuringCleanup(t *testing.T) {
	hosts := &fakeHosts{block: make(chan struct{})}
	c := NewCoordinator(Collaborators{Hosts: hosts}, noExit(t))

	if !c.Register(&fakeListener{name: "before.test"}) {
		t.Fatal("Register() = false before any cleanup")
	}

	comp := c.TriggerCleanup(context.Background(), CleanupOptions{Domains: []string{"app.test"}, Hosts: true, Embedded: true})
	late := &fakeListener{name: "late.test"}
	if c.Register(late) {
		t.Error("Register() = true while cleanup is running")
	}
	close(hosts.block)
	if err := waitFor(t, comp); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if n := len(c.Listeners()); n != 0 {
		t.Errorf("Listeners() = %d after cleanup, want 0", n)
	}
	if !c.Register(late) {
		t.Error("Register() = false after cleanup completed")
	}
}
