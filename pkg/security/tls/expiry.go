package tls

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ExpiryChecker logs a warning on a cron schedule when the served
// certificate is close to expiry or already expired.
type ExpiryChecker struct {
	schedule string
	leaf     func() *x509.Certificate
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewExpiryChecker creates a checker for the certificate returned by leaf.
// Common schedules are "@daily" and "0 9 * * *".
func NewExpiryChecker(schedule string, leaf func() *x509.Certificate, logger *slog.Logger) (*ExpiryChecker, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default().With("component", "tls")
	}
	return &ExpiryChecker{
		schedule: schedule,
		leaf:     leaf,
		now:      time.Now,
		logger:   logger,
		cron:     cron.New(),
	}, nil
}

// Start runs one check immediately and then on the schedule.
func (c *ExpiryChecker) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() { c.Check() }); err != nil {
		return fmt.Errorf("failed to schedule expiry check: %w", err)
	}
	c.cron.Start()
	c.running = true
	c.logger.Debug("certificate expiry check scheduled", "schedule", c.schedule)

	go c.Check()
	return nil
}

// Stop halts the schedule and waits for a running check.
func (c *ExpiryChecker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	<-c.cron.Stop().Done()
	c.running = false
}

// Check inspects the certificate once and returns the warning it logged,
// if any.
func (c *ExpiryChecker) Check() string {
	leaf := c.leaf()
	if leaf == nil {
		return ""
	}

	now := c.now()
	if err := ValidateX509Certificate(leaf, now); err != nil {
		c.logger.Error("certificate invalid", "subject", leaf.Subject.CommonName, "error", err)
		return err.Error()
	}

	days, warning := CheckCertificateExpiration(leaf, now)
	if warning != "" {
		c.logger.Warn("certificate expiring soon",
			"subject", leaf.Subject.CommonName,
			"expires_in_days", days,
			"expires_at", leaf.NotAfter.Format(time.RFC3339),
		)
		return warning
	}
	c.logger.Debug("certificate expiry ok", "subject", leaf.Subject.CommonName, "expires_in_days", days)
	return ""
}
