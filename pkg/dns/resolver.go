package dns

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Registrar points per-TLD resolution at the responder. On darwin it writes
// one file per TLD under the resolver directory (normally /etc/resolver);
// elsewhere it does nothing.
type Registrar struct {
	dir     string
	enabled bool
	logger  *slog.Logger
}

// NewRegistrar creates a registrar writing into dir.
func NewRegistrar(dir string) *Registrar {
	return &Registrar{
		dir:     dir,
		enabled: runtime.GOOS == "darwin",
		logger:  slog.Default().With("component", "resolver"),
	}
}

// Supported reports whether the platform has per-TLD resolver files.
func (r *Registrar) Supported() bool {
	return r.enabled
}

// ResolverContent is the body of a resolver file for a responder port.
func ResolverContent(address string, port int) string {
	return fmt.Sprintf("nameserver %s\nport %d\n", address, port)
}

// Register writes a resolver file for each TLD. Failures for one TLD do not
// stop the others; they are joined into the returned error.
func (r *Registrar) Register(tlds []string, address string, port int) error {
	if !r.enabled {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create resolver directory %s: %w", r.dir, err)
	}

	content := []byte(ResolverContent(address, port))
	var errs []error
	for _, tld := range uniqueTLDs(tlds) {
		path := filepath.Join(r.dir, tld)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
			continue
		}
		r.logger.Debug("resolver registered", "tld", tld, "path", path, "port", port)
	}
	return errors.Join(errs...)
}

// Unregister removes the resolver files for each TLD. Missing files are not
// an error.
func (r *Registrar) Unregister(tlds []string) error {
	if !r.enabled {
		return nil
	}

	var errs []error
	for _, tld := range uniqueTLDs(tlds) {
		path := filepath.Join(r.dir, tld)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		r.logger.Debug("resolver removed", "tld", tld, "path", path)
	}
	return errors.Join(errs...)
}

func uniqueTLDs(tlds []string) []string {
	seen := make(map[string]struct{}, len(tlds))
	out := make([]string, 0, len(tlds))
	for _, tld := range tlds {
		tld = normalizeName(tld)
		if tld == "" || strings.ContainsAny(tld, `/\`) {
			continue
		}
		if _, ok := seen[tld]; ok {
			continue
		}
		seen[tld] = struct{}{}
		out = append(out, tld)
	}
	return out
}
