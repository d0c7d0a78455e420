package server

import (
	"context"
	cryptotls "crypto/tls"
	"crypto/x509"
	"fmt"

	"stacks-dev/rpx/pkg/proxy"
	"stacks-dev/rpx/pkg/security/tls"
)

// tlsSetup is the serving configuration for a group of routes plus the
// background reload and expiry jobs attached to it. It is registered with
// the coordinator so teardown stops those jobs.
type tlsSetup struct {
	config  *cryptotls.Config
	cancel  context.CancelFunc
	checker *tls.ExpiryChecker
}

func (t *tlsSetup) Name() string { return "tls" }

func (t *tlsSetup) Shutdown(context.Context) error {
	t.stop()
	return nil
}

func (t *tlsSetup) stop() {
	if t == nil {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	if t.checker != nil {
		t.checker.Stop()
	}
}

// setupTLS ensures certificate material for domains and builds the server
// configuration. With file watching on, the certificate is served through a
// reloader so regenerated files take effect immediately.
func (s *Server) setupTLS(ctx context.Context, domains []string) (*tlsSetup, error) {
	material, err := s.certs.Ensure(domains)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", proxy.ErrTLSMaterialMissing, err)
	}

	setup := &tlsSetup{}
	var leaf func() *x509.Certificate

	if s.config.HTTPS.WatchFiles != nil && *s.config.HTTPS.WatchFiles {
		reloader := tls.NewReloader(material.Files.Cert, material.Files.Key, s.logger.With("component", "tls"))
		if err := reloader.Load(); err != nil {
			return nil, fmt.Errorf("%w: %v", proxy.ErrTLSMaterialMissing, err)
		}
		watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := reloader.Watch(watchCtx); err != nil {
			s.logger.Warn("certificate file watching unavailable", "error", err)
		}
		setup.cancel = cancel
		setup.config = tls.ReloadingServerConfig(reloader)
		leaf = reloader.Leaf
	} else {
		cfg, err := tls.ServerConfig(material.Cert, material.Key, material.CA)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", proxy.ErrTLSMaterialMissing, err)
		}
		setup.config = cfg
		cert, err := x509.ParseCertificate(servedLeaf(cfg))
		if err == nil {
			leaf = func() *x509.Certificate { return cert }
		}
	}

	if schedule := s.config.HTTPS.ExpiryCheckSchedule; schedule != "" && leaf != nil {
		checker, err := tls.NewExpiryChecker(schedule, leaf, s.logger.With("component", "tls"))
		if err != nil {
			s.logger.Warn("certificate expiry checks disabled", "error", err)
		} else if err := checker.Start(); err != nil {
			s.logger.Warn("certificate expiry checks disabled", "error", err)
		} else {
			setup.checker = checker
		}
	}

	s.logger.Info("TLS ready", "cert", material.Files.Cert, "ca", material.Files.CA, "expires_at", material.NotAfter)
	return setup, nil
}

// servedLeaf returns the DER leaf served by cfg. ServerConfig always serves
// the same certificate, so any hello works.
func servedLeaf(cfg *cryptotls.Config) []byte {
	cert, err := cfg.GetCertificate(&cryptotls.ClientHelloInfo{})
	if err != nil || len(cert.Certificate) == 0 {
		return nil
	}
	return cert.Certificate[0]
}
