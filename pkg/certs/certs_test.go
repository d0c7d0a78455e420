package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"stacks-dev/rpx/pkg/config"
)

func TestPathsFor(t *testing.T) {
	got := PathsFor("/ssl", "*.App.test")
	want := Paths{
		Key:  filepath.Join("/ssl", "wildcard.app.test.key"),
		Cert: filepath.Join("/ssl", "wildcard.app.test.crt"),
		CA:   filepath.Join("/ssl", "wildcard.app.test.ca.crt"),
	}
	if got != want {
		t.Errorf("PathsFor() = %+v, want %+v", got, want)
	}
}

func TestWildcardPatterns(t *testing.T) {
	tests := []struct {
		domain string
		want   []string
	}{
		{"app.example.test", []string{"app.example.test", "*.example.test"}},
		{"app.test", []string{"app.test", "*.test"}},
		{"localhost", []string{"localhost"}},
	}
	for _, tt := range tests {
		if got := WildcardPatterns(tt.domain); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("WildcardPatterns(%q) = %v, want %v", tt.domain, got, tt.want)
		}
	}
}

func TestAllDomains(t *testing.T) {
	got := AllDomains([]string{"app.test", "api.test", "app.localhost"})
	want := []string{"app.test", "*.test", "api.test", "app.localhost", "*.localhost", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllDomains() = %v, want %v", got, want)
	}
}

func TestGenerate(t *testing.T) {
	m, err := Generate([]string{"app.test", "*.test", "localhost"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	pair, err := tls.X509KeyPair(m.Cert, m.Key)
	if err != nil {
		t.Fatalf("X509KeyPair() error = %v", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(m.CA) {
		t.Fatal("CA PEM did not parse")
	}
	for _, host := range []string{"app.test", "other.test", "localhost", "127.0.0.1"} {
		if _, err := leaf.Verify(x509.VerifyOptions{DNSName: host, Roots: roots}); err != nil {
			t.Errorf("Verify(%s) error = %v", host, err)
		}
	}
	if leaf.IsCA {
		t.Error("leaf certificate is a CA")
	}
}

func TestProvider_EnsureReusesMaterial(t *testing.T) {
	base := t.TempDir()
	p := NewProvider(config.HTTPSConfig{BasePath: base}, nil)

	first, err := p.Ensure([]string{"app.test"})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	for _, path := range first.Files.All() {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
	info, err := os.Stat(first.Files.Key)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("key mode = %v, want 0600", perm)
	}

	second, err := p.Ensure([]string{"app.test"})
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if string(second.Cert) != string(first.Cert) {
		t.Error("Ensure() regenerated a valid certificate")
	}

	// A domain outside the existing SANs forces regeneration.
	third, err := p.Ensure([]string{"app.test", "api.example"})
	if err != nil {
		t.Fatalf("third Ensure() error = %v", err)
	}
	if string(third.Cert) == string(first.Cert) {
		t.Error("Ensure() reused a certificate that does not cover api.example")
	}
}

func TestProvider_ConfiguredPathsAreOnlyLoaded(t *testing.T) {
	dir := t.TempDir()
	p := NewProvider(config.HTTPSConfig{
		BasePath: dir,
		KeyPath:  filepath.Join(dir, "custom.key"),
		CertPath: filepath.Join(dir, "custom.crt"),
	}, nil)

	if _, err := p.Ensure([]string{"app.test"}); err == nil {
		t.Fatal("Ensure() error = nil, want error for missing configured files")
	}
	if _, err := os.Stat(filepath.Join(dir, "custom.key")); !os.IsNotExist(err) {
		t.Error("Ensure() wrote to a configured key path")
	}
}

func TestProvider_Cleanup(t *testing.T) {
	base := t.TempDir()
	p := NewProvider(config.HTTPSConfig{BasePath: base}, nil)

	m, err := p.Ensure([]string{"app.test"})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Cleanup("app.test"); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	for _, path := range m.Files.All() {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s still exists after Cleanup", path)
		}
	}
	if err := p.Cleanup("app.test"); err != nil {
		t.Errorf("Cleanup() of missing files error = %v", err)
	}
}
