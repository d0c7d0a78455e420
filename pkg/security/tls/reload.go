package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader serves a certificate from disk and reloads it when the files
// change, so regenerated certificates take effect without restarting
// listeners.
type Reloader struct {
	certFile string
	keyFile  string
	debounce time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate
	leaf *x509.Certificate

	reloads chan struct{}
}

// NewReloader creates a reloader for the given PEM files. Call Load before
// serving.
func NewReloader(certFile, keyFile string, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default().With("component", "tls")
	}
	return &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		debounce: 100 * time.Millisecond,
		logger:   logger,
		reloads:  make(chan struct{}, 1),
	}
}

// Load reads and validates the certificate pair.
func (r *Reloader) Load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	if err := ValidateCertificate(&cert); err != nil {
		return err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.leaf = leaf
	r.mu.Unlock()

	r.logger.Debug("certificate loaded",
		"cert_file", r.certFile,
		"subject", leaf.Subject.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	)
	return nil
}

// Watch reloads the certificate whenever the cert or key file is written,
// created or renamed into place. Events are debounced so a pair of writes
// causes one reload. A failed reload keeps serving the previous
// certificate. Watch returns once the watcher is installed and stops when
// ctx ends.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch directories: generators replace files by rename.
	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	go r.loop(ctx, watcher)
	return nil
}

func (r *Reloader) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	certName, keyName := filepath.Clean(r.certFile), filepath.Clean(r.keyFile)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != certName && name != keyName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			r.logger.Debug("certificate file changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.Load(); err != nil {
				r.logger.Error("failed to reload certificate", "error", err, "cert_file", r.certFile)
				continue
			}
			r.logger.Info("certificate reloaded", "cert_file", r.certFile)
			select {
			case r.reloads <- struct{}{}:
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("certificate watcher error", "error", err)
		}
	}
}

// Reloaded receives a value after each successful reload.
func (r *Reloader) Reloaded() <-chan struct{} { return r.reloads }

// GetCertificate returns the current certificate.
func (r *Reloader) GetCertificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// Leaf returns the parsed leaf of the current certificate.
func (r *Reloader) Leaf() *x509.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaf
}

// GetCertificateFunc adapts the reloader to tls.Config.GetCertificate.
func (r *Reloader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert := r.GetCertificate()
		if cert == nil {
			return nil, fmt.Errorf("no certificate loaded")
		}
		return cert, nil
	}
}
