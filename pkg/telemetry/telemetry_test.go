package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stacks-dev/rpx/pkg/config"
)

func TestTelemetry_Handler(t *testing.T) {
	cfg := config.DefaultConfig()
	tel, err := New(&cfg.Telemetry, BuildInfo{Version: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	tel.Metrics().RecordDNSQuery("A", "NOERROR")

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/metrics", wantCode: http.StatusOK, contains: "rpx_dns_queries_total"},
		{path: "/healthz", wantCode: http.StatusOK, contains: `"status":"ok"`},
		{path: "/readyz", wantCode: http.StatusOK, contains: `"status":"ready"`},
		{path: "/version", wantCode: http.StatusOK, contains: `"version":"test"`},
	}

	handler := tel.Handler()
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body = %q, want substring %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestTelemetry_ServeWithoutListen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Listen = ""
	tel, err := New(&cfg.Telemetry, BuildInfo{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := tel.Serve(context.Background()); err != nil {
		t.Errorf("Serve() error = %v, want nil", err)
	}
}

func TestNew_InvalidLogLevel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.Logging.Level = "chatty"
	if _, err := New(&cfg.Telemetry, BuildInfo{}); err == nil {
		t.Error("New() expected error for invalid log level")
	}
}
