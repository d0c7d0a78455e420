package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stacks-dev/rpx/pkg/config"
)

func fastReadiness() config.ReadinessConfig {
	return config.ReadinessConfig{
		Retries:     2,
		DialTimeout: 200 * time.Millisecond,
		HeadTimeout: 200 * time.Millisecond,
		Interval:    10 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestProber_Ready(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	p := NewProber(fastReadiness(), nil)
	if err := p.WaitReady(context.Background(), ts.Listener.Addr().String()); err != nil {
		t.Errorf("WaitReady() error = %v, want nil", err)
	}
	if err := p.WaitReady(context.Background(), ts.URL); err != nil {
		t.Errorf("WaitReady(%q) error = %v, want nil", ts.URL, err)
	}
}

func TestProber_Timeout(t *testing.T) {
	p := NewProber(fastReadiness(), nil)

	err := p.WaitReady(context.Background(), closedAddr(t))
	if !errors.Is(err, ErrConnectivityTimeout) {
		t.Errorf("WaitReady() error = %v, want ErrConnectivityTimeout", err)
	}
}

func TestProber_Bypass(t *testing.T) {
	cfg := fastReadiness()
	cfg.Bypass = true
	p := NewProber(cfg, nil)

	if err := p.WaitReady(context.Background(), closedAddr(t)); err != nil {
		t.Errorf("WaitReady() error = %v, want nil when bypassed", err)
	}
}

func TestProber_Cancelled(t *testing.T) {
	cfg := fastReadiness()
	cfg.Retries = 100
	cfg.Interval = time.Second
	p := NewProber(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.WaitReady(ctx, closedAddr(t))
	if !errors.Is(err, ErrConnectivityTimeout) {
		t.Errorf("WaitReady() error = %v, want ErrConnectivityTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("WaitReady() took %v after cancellation", elapsed)
	}
}
