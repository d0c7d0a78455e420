package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stacks-dev/rpx/pkg/config"
)

// DefaultValidity is the lifetime of generated leaf certificates.
const DefaultValidity = 825 * 24 * time.Hour

// renewBefore regenerates material this close to expiry.
const renewBefore = 7 * 24 * time.Hour

// Provider produces serving material for route domains, reusing what is
// already on disk when it is still valid and covers every domain.
type Provider struct {
	cfg      config.HTTPSConfig
	validity time.Duration
	logger   *slog.Logger
}

// NewProvider creates a provider writing under cfg.BasePath unless explicit
// key/cert/CA paths are configured.
func NewProvider(cfg config.HTTPSConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default().With("component", "certs")
	}
	return &Provider{cfg: cfg, validity: DefaultValidity, logger: logger}
}

// Paths returns the file locations for primary, honoring configured
// overrides.
func (p *Provider) Paths(primary string) Paths {
	paths := PathsFor(p.cfg.BasePath, primary)
	if p.cfg.KeyPath != "" {
		paths.Key = p.cfg.KeyPath
	}
	if p.cfg.CertPath != "" {
		paths.Cert = p.cfg.CertPath
	}
	if p.cfg.CACertPath != "" {
		paths.CA = p.cfg.CACertPath
	}
	return paths
}

// Ensure returns serving material for domains. Files written by an earlier
// run are reused when they parse, are not about to expire and cover every
// domain; otherwise new material is generated and written. The first
// domain names the files. Explicitly configured key and cert paths are
// only loaded.
func (p *Provider) Ensure(domains []string) (*Material, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains to certify")
	}
	paths := p.Paths(domains[0])

	if p.cfg.KeyPath != "" && p.cfg.CertPath != "" {
		// User supplied material is never overwritten.
		m, err := Load(paths)
		if err != nil {
			return nil, fmt.Errorf("loading configured certificate: %w", err)
		}
		return m, nil
	}

	m, err := Load(paths)
	if err == nil {
		reason := p.unusable(m, domains)
		if reason == "" {
			p.logger.Debug("reusing certificate", "cert", paths.Cert, "expires_at", m.NotAfter)
			return m, nil
		}
		p.logger.Info("regenerating certificate", "cert", paths.Cert, "reason", reason)
	} else if !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("existing certificate unreadable, regenerating", "cert", paths.Cert, "error", err)
	}

	return p.Generate(domains)
}

// Generate always creates new material for domains and writes it.
func (p *Provider) Generate(domains []string) (*Material, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains to certify")
	}
	sans := AllDomains(domains)
	m, err := Generate(sans, p.validity)
	if err != nil {
		return nil, err
	}
	m.Files = p.Paths(domains[0])

	if err := write(m); err != nil {
		return nil, err
	}
	p.logger.Info("certificate generated", "cert", m.Files.Cert, "domains", sans, "expires_at", m.NotAfter)
	return m, nil
}

func (p *Provider) unusable(m *Material, domains []string) string {
	leaf, err := parseLeaf(m.Cert)
	if err != nil {
		return err.Error()
	}
	if time.Until(leaf.NotAfter) < renewBefore {
		return "expiring"
	}
	for _, d := range domains {
		if err := leaf.VerifyHostname(d); err != nil {
			return fmt.Sprintf("does not cover %s", d)
		}
	}
	if _, err := tls.X509KeyPair(m.Cert, m.Key); err != nil {
		return err.Error()
	}
	return ""
}

// Cleanup deletes the key, certificate and CA files for domain. Missing
// files are ignored.
func (p *Provider) Cleanup(domain string) error {
	var errs []error
	for _, path := range p.Paths(domain).All() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		p.logger.Debug("removed certificate file", "path", path)
	}
	return errors.Join(errs...)
}

// Load reads material from paths. The CA file is optional.
func Load(paths Paths) (*Material, error) {
	key, err := os.ReadFile(paths.Key)
	if err != nil {
		return nil, err
	}
	cert, err := os.ReadFile(paths.Cert)
	if err != nil {
		return nil, err
	}
	ca, err := os.ReadFile(paths.CA)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	leaf, err := parseLeaf(cert)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", paths.Cert, err)
	}
	return &Material{
		Files:    paths,
		Key:      key,
		Cert:     cert,
		CA:       ca,
		Domains:  leaf.DNSNames,
		NotAfter: leaf.NotAfter,
	}, nil
}

func parseLeaf(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate found")
	}
	return x509.ParseCertificate(block.Bytes)
}

func write(m *Material) error {
	files := []struct {
		path string
		data []byte
		mode os.FileMode
	}{
		{m.Files.Key, m.Key, 0o600},
		{m.Files.Cert, m.Cert, 0o644},
		{m.Files.CA, m.CA, 0o644},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
			return fmt.Errorf("failed to create certificate directory: %w", err)
		}
		if err := os.WriteFile(f.path, f.data, f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return nil
}
