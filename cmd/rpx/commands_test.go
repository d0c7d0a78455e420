package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stacks-dev/rpx/pkg/certs"
	"stacks-dev/rpx/pkg/cli"
	"stacks-dev/rpx/pkg/dns"
	"stacks-dev/rpx/pkg/hosts"
	securityTLS "stacks-dev/rpx/pkg/security/tls"
)

func TestPrintLookup(t *testing.T) {
	res := &dns.LookupResult{
		Rcode:         "NOERROR",
		Authoritative: true,
		Answers:       []string{"app.test.\t0\tIN\tA\t127.0.0.1"},
		RTT:           1500 * time.Microsecond,
	}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printLookup(&buf, cli.FormatText, "app.test", res); err != nil {
			t.Fatalf("printLookup() error = %v", err)
		}
		out := buf.String()
		if !strings.HasPrefix(out, "app.test: NOERROR (authoritative) in 1.5ms") {
			t.Errorf("output = %q", out)
		}
		if !strings.Contains(out, "127.0.0.1") {
			t.Errorf("output missing answer: %q", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		empty := &dns.LookupResult{Rcode: "NXDOMAIN"}
		if err := printLookup(&buf, cli.FormatJSON, "nope.example", empty); err != nil {
			t.Fatalf("printLookup() error = %v", err)
		}
		var got lookupOutput
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("invalid JSON %q: %v", buf.String(), err)
		}
		if got.Rcode != "NXDOMAIN" || got.Answers == nil || len(got.Answers) != 0 {
			t.Errorf("decoded = %+v, want NXDOMAIN with empty answers", got)
		}
	})
}

func TestHostsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := hosts.NewManager(path, nil)
	names := []string{"app.test", "api.app.test"}

	var buf bytes.Buffer
	if err := addHosts(&buf, m, names); err != nil {
		t.Fatalf("addHosts() error = %v", err)
	}
	if !strings.Contains(buf.String(), "✓ app.test, api.app.test mapped") {
		t.Errorf("add output = %q", buf.String())
	}

	buf.Reset()
	if err := checkHosts(&buf, cli.FormatJSON, m, append(names, "other.test")); err != nil {
		t.Fatalf("checkHosts() error = %v", err)
	}
	var report hostsReport
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON %q: %v", buf.String(), err)
	}
	want := []bool{true, true, false}
	if len(report.Hosts) != len(want) {
		t.Fatalf("len(Hosts) = %d, want %d", len(report.Hosts), len(want))
	}
	for i, h := range report.Hosts {
		if h.Mapped != want[i] {
			t.Errorf("%s mapped = %v, want %v", h.Host, h.Mapped, want[i])
		}
	}

	buf.Reset()
	if err := removeHosts(&buf, m, names); err != nil {
		t.Fatalf("removeHosts() error = %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "127.0.0.1 localhost\n" {
		t.Errorf("hosts file after remove = %q", content)
	}

	buf.Reset()
	if err := checkHosts(&buf, cli.FormatText, m, names); err != nil {
		t.Fatalf("checkHosts() error = %v", err)
	}
	if !strings.Contains(buf.String(), "✗ app.test") {
		t.Errorf("check output = %q", buf.String())
	}
}

func TestPrintCertInfo(t *testing.T) {
	material, err := certs.Generate([]string{"app.localhost"}, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "app.localhost.crt")
	if err := os.WriteFile(path, material.Cert, 0o644); err != nil {
		t.Fatal(err)
	}

	cert, err := securityTLS.ReadCertificateFile(path)
	if err != nil {
		t.Fatalf("ReadCertificateFile() error = %v", err)
	}
	info := securityTLS.ExtractCertificateInfo(cert)
	info.Path = path

	tests := []struct {
		name        string
		now         time.Time
		wantWarning string
	}{
		{"fresh", time.Now(), ""},
		{"near expiry", cert.NotAfter.Add(-48 * time.Hour), "certificate expires in"},
		{"expired", cert.NotAfter.Add(time.Hour), "certificate expired on"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printCertInfo(&buf, cli.FormatJSON, info, tt.now); err != nil {
				t.Fatalf("printCertInfo() error = %v", err)
			}
			var got struct {
				Path     string
				DNSNames []string
				Warning  string `json:"warning"`
			}
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("invalid JSON %q: %v", buf.String(), err)
			}
			if got.Path != path {
				t.Errorf("Path = %q, want %q", got.Path, path)
			}
			if tt.wantWarning == "" && got.Warning != "" {
				t.Errorf("Warning = %q, want none", got.Warning)
			}
			if !strings.HasPrefix(got.Warning, tt.wantWarning) {
				t.Errorf("Warning = %q, want prefix %q", got.Warning, tt.wantWarning)
			}
		})
	}

	var buf bytes.Buffer
	if err := printCertInfo(&buf, cli.FormatText, info, time.Now()); err != nil {
		t.Fatalf("printCertInfo() error = %v", err)
	}
	if !strings.Contains(buf.String(), "app.localhost") {
		t.Errorf("text output missing DNS name:\n%s", buf.String())
	}
}
