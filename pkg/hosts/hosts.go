package hosts

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Marker precedes every block of entries written by rpx.
const Marker = "# Added by rpx"

// Loopback addresses written for each host.
const (
	IPv4Loopback = "127.0.0.1"
	IPv6Loopback = "::1"
)

// Manager edits a hosts file. All operations are best-effort: callers log
// the returned errors and continue.
type Manager struct {
	path   string
	logger *slog.Logger
}

// NewManager creates a manager for the hosts file at path.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "hosts")
	}
	return &Manager{path: path, logger: logger}
}

// Path returns the managed hosts file location.
func (m *Manager) Path() string { return m.path }

// Add appends a marked IPv4 and IPv6 loopback entry for every host not
// already mapped. Hosts that are present are left alone.
func (m *Manager) Add(hosts []string) error {
	content, err := os.ReadFile(m.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading hosts file: %w", err)
	}

	present := parse(content)
	var buf bytes.Buffer
	var added []string
	for _, host := range normalize(hosts) {
		if present.has(host) {
			continue
		}
		fmt.Fprintf(&buf, "\n%s\n%s %s\n%s %s\n", Marker, IPv4Loopback, host, IPv6Loopback, host)
		added = append(added, host)
	}
	if len(added) == 0 {
		m.logger.Debug("hosts entries already present", "hosts", hosts)
		return nil
	}

	if len(content) > 0 && content[len(content)-1] != '\n' {
		content = append(content, '\n')
	}
	content = append(content, buf.Bytes()...)

	if err := m.write(content); err != nil {
		return fmt.Errorf("adding %s to hosts file: %w", strings.Join(added, ", "), err)
	}
	m.logger.Info("added hosts entries", "hosts", added, "path", m.path)
	return nil
}

// Remove deletes loopback entries for hosts together with the rpx marker
// heading each emptied block. Other lines are kept verbatim.
func (m *Manager) Remove(hosts []string) error {
	content, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading hosts file: %w", err)
	}

	targets := make(map[string]struct{})
	for _, h := range normalize(hosts) {
		targets[h] = struct{}{}
	}

	lines := strings.Split(string(content), "\n")
	drop := make([]bool, len(lines))
	modified := false
	for i, line := range lines {
		if isManagedEntry(line, targets) {
			drop[i] = true
			modified = true
		}
	}
	if !modified {
		m.logger.Debug("no hosts entries to remove", "hosts", hosts)
		return nil
	}

	// A marker goes with its block when the block is gone.
	for i, line := range lines {
		if strings.TrimSpace(line) != Marker {
			continue
		}
		j := i + 1
		for j < len(lines) && drop[j] {
			j++
		}
		if j > i+1 && (j == len(lines) || !isLoopbackEntry(lines[j])) {
			drop[i] = true
		}
	}

	kept := make([]string, 0, len(lines))
	for i, line := range lines {
		if !drop[i] {
			kept = append(kept, line)
		}
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}

	if err := m.write([]byte(strings.Join(kept, "\n") + "\n")); err != nil {
		return fmt.Errorf("removing hosts entries: %w", err)
	}
	m.logger.Info("removed hosts entries", "hosts", hosts, "path", m.path)
	return nil
}

// Check reports, per host, whether the hosts file maps it to a loopback
// address. An unreadable file reports every host as missing.
func (m *Manager) Check(hosts []string) ([]bool, error) {
	out := make([]bool, len(hosts))
	content, err := os.ReadFile(m.path)
	if err != nil {
		return out, fmt.Errorf("reading hosts file: %w", err)
	}
	present := parse(content)
	for i, h := range hosts {
		out[i] = present.has(strings.ToLower(strings.TrimSpace(h)))
	}
	return out, nil
}

// write replaces the hosts file through a temp file and rename. Some
// platforms refuse renames onto the hosts file (bind mounts, locked files),
// so a failed rename falls back to writing in place.
func (m *Manager) write(content []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(m.path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".rpx-hosts-*")
	if err != nil {
		return os.WriteFile(m.path, content, mode)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		m.logger.Debug("rename onto hosts file failed, writing in place", "error", err)
		return os.WriteFile(m.path, content, mode)
	}
	return nil
}

// entries is the set of hostnames mapped to a loopback address.
type entries map[string]struct{}

func (e entries) has(host string) bool {
	_, ok := e[host]
	return ok
}

func parse(content []byte) entries {
	out := make(entries)
	for _, line := range strings.Split(string(content), "\n") {
		fields := loopbackFields(line)
		for _, name := range fields {
			out[strings.ToLower(name)] = struct{}{}
		}
	}
	return out
}

// loopbackFields returns the hostnames of a loopback entry line, or nil.
func loopbackFields(line string) []string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}
	if fields[0] != IPv4Loopback && fields[0] != IPv6Loopback {
		return nil
	}
	return fields[1:]
}

func isLoopbackEntry(line string) bool {
	return loopbackFields(line) != nil
}

// isManagedEntry reports whether line is a loopback entry naming only
// target hosts. Lines that also map unrelated names are kept.
func isManagedEntry(line string, targets map[string]struct{}) bool {
	names := loopbackFields(line)
	if len(names) == 0 {
		return false
	}
	for _, n := range names {
		if _, ok := targets[strings.ToLower(n)]; !ok {
			return false
		}
	}
	return true
}

func normalize(hosts []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
