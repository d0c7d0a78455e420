package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	keySize      = 2048
	organization = "rpx local development"
	caValidity   = 10 * 365 * 24 * time.Hour
)

// Material is PEM-encoded serving material plus the files it lives in.
type Material struct {
	Files Paths

	Key  []byte
	Cert []byte
	CA   []byte

	// Domains are the subject alternative names of the leaf.
	Domains  []string
	NotAfter time.Time
}

// Generate creates a local root CA and a leaf certificate signed by it for
// domains, 127.0.0.1 and ::1. It does not touch the filesystem.
func Generate(domains []string, validity time.Duration) (*Material, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains to certify")
	}
	now := time.Now()

	caKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber: mustSerial(),
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   "rpx Local CA",
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	var dnsNames []string
	ips := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	for _, d := range domains {
		if ip := net.ParseIP(d); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dnsNames = append(dnsNames, d)
	}

	notAfter := now.Add(validity)
	leafTemplate := &x509.Certificate{
		SerialNumber: mustSerial(),
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   domains[0],
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return &Material{
		Key:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(leafKey)}),
		Cert:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}),
		CA:       pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		Domains:  append([]string(nil), domains...),
		NotAfter: notAfter,
	}, nil
}

func mustSerial() *big.Int {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return serial
}
