package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ServerConfig returns a TLS configuration for a proxy listener serving
// certPEM/keyPEM. It negotiates TLS 1.2 or 1.3 only and never asks for a
// client certificate. When caPEM is set the CA is appended to the served
// chain so clients that trust it can build the path.
func ServerConfig(certPEM, keyPEM, caPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if err := ValidateCertificate(&cert); err != nil {
		return nil, fmt.Errorf("certificate validation failed: %w", err)
	}
	if len(caPEM) > 0 {
		ca, err := parsePEMCertificate(caPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
		}
		cert.Certificate = append(cert.Certificate, ca.Raw)
	}

	return newServerConfig(func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		return &cert, nil
	}), nil
}

// ReloadingServerConfig is ServerConfig with the certificate served by a
// Reloader, so replaced files take effect without restarting listeners.
func ReloadingServerConfig(r *Reloader) *tls.Config {
	return newServerConfig(r.GetCertificateFunc())
}

func newServerConfig(get func(*tls.ClientHelloInfo) (*tls.Certificate, error)) *tls.Config {
	return &tls.Config{
		GetCertificate: get,
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
		ClientAuth:     tls.NoClientCert,
		NextProtos:     []string{"h2", "http/1.1"},
	}
}

// CertPool returns a pool holding the PEM certificates in caPEM.
func CertPool(caPEM []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in CA PEM")
	}
	return pool, nil
}
