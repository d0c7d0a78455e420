package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultKillAfter is how long Stop waits after SIGTERM before SIGKILL.
const DefaultKillAfter = 3 * time.Second

var (
	// ErrAlreadyRunning is returned by Start for an id that is still running.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrEmptyCommand is returned by Start for a blank command.
	ErrEmptyCommand = errors.New("empty command")
)

// Process is a dev server command started by a Supervisor.
type Process struct {
	ID      string
	RunID   string
	Command string
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error

	stdout *lineWriter
	stderr *lineWriter
}

// Pid returns the operating system process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Err returns the exit error after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Supervisor starts dev server commands and stops them on teardown.
type Supervisor struct {
	mu        sync.Mutex
	procs     map[string]*Process
	killAfter time.Duration
	logger    *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithKillAfter overrides DefaultKillAfter.
func WithKillAfter(d time.Duration) Option {
	return func(s *Supervisor) { s.killAfter = d }
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *slog.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		procs:     make(map[string]*Process),
		killAfter: DefaultKillAfter,
		logger:    logger.With("component", "process"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs command through the shell in cwd with env added to the current
// environment. The command gets its own process group so Stop reaches every
// child it spawns. Output is logged line by line under the process id.
func (s *Supervisor) Start(id, command, cwd string, env map[string]string) (*Process, error) {
	if command == "" {
		return nil, ErrEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.procs[id]; ok {
		select {
		case <-p.done:
		default:
			return nil, fmt.Errorf("%s: %w", id, ErrAlreadyRunning)
		}
	}

	p := &Process{
		ID:      id,
		RunID:   uuid.NewString(),
		Command: command,
		done:    make(chan struct{}),
	}
	logger := s.logger.With("process", id, "run_id", p.RunID)
	p.stdout = newLineWriter(logger, slog.LevelInfo, "stdout")
	p.stderr = newLineWriter(logger, slog.LevelWarn, "stderr")

	cmd := shellCommand(command)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	cmd.WaitDelay = s.killAfter
	setProcessGroup(cmd)
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", id, err)
	}
	p.Started = time.Now()
	s.procs[id] = p

	logger.Info("process started", "command", command, "cwd", cwd, "pid", cmd.Process.Pid)

	go func() {
		p.err = cmd.Wait()
		p.stdout.Flush()
		p.stderr.Flush()
		close(p.done)

		attrs := []any{"uptime", time.Since(p.Started).Round(time.Millisecond)}
		if p.err != nil {
			attrs = append(attrs, "error", p.err)
		}
		logger.Info("process exited", attrs...)
	}()

	return p, nil
}

// Stop sends SIGTERM to the process group of id and escalates to SIGKILL if
// it is still running after the kill timeout or when ctx ends. Stopping an
// unknown or exited process is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	defer s.forget(id, p)

	select {
	case <-p.done:
		return nil
	default:
	}

	s.logger.Debug("stopping process", "process", id, "pid", p.Pid())
	if err := terminate(p.cmd); err != nil {
		s.logger.Warn("failed to signal process", "process", id, "error", err)
	}

	timer := time.NewTimer(s.killAfter)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		s.logger.Warn("process ignored SIGTERM, killing", "process", id, "after", s.killAfter)
	case <-ctx.Done():
	}

	if err := kill(p.cmd); err != nil {
		return fmt.Errorf("failed to kill %s: %w", id, err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAll stops every running process concurrently.
func (s *Supervisor) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.Running() {
		id := id
		g.Go(func() error {
			return s.Stop(ctx, id)
		})
	}
	return g.Wait()
}

// Running returns the ids of processes that have not exited, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.procs))
	for id, p := range s.procs {
		select {
		case <-p.done:
		default:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *Supervisor) forget(id string, p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procs[id] == p {
		delete(s.procs, id)
	}
}

// mergeEnv appends extra to base in key order; later entries win.
func mergeEnv(base []string, extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	env := slices.Clone(base)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
