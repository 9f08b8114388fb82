// Package process launches flake processes and terminates them with a
// graceful-then-forced protocol. A Supervisor only knows pids; mapping them
// to stored definitions is the caller's job.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/fordtom/minions/internal/env"
	"github.com/fordtom/minions/internal/metrics"
	"github.com/fordtom/minions/internal/shellwords"
)

var ErrSupervisor = errors.New("supervisor failure")

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultKillTimeout = 2 * time.Second
)

var DefaultRunCommand = []string{"nix", "run"}

type Config struct {
	// RunCommand is the argv prefix placed before the flake URL.
	RunCommand  []string
	GracePeriod time.Duration
	KillTimeout time.Duration
	// Stdout and Stderr default to the daemon's own streams.
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

type handle struct {
	cmd       *exec.Cmd
	done      chan struct{} // closed once cmd.Wait returns
	killed    bool          // guarded by Supervisor.mu
	startedAt time.Time
}

type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	mu      sync.Mutex
	handles map[int]*handle
}

func New(cfg Config) *Supervisor {
	if len(cfg.RunCommand) == 0 {
		cfg.RunCommand = DefaultRunCommand
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{cfg: cfg, log: log, handles: make(map[int]*handle)}
}

// Argv returns the full invocation for flakeURL: the run command, the flake,
// a "--" separator and the lexed args.
func (s *Supervisor) Argv(flakeURL string, args *string) ([]string, error) {
	argv := make([]string, 0, len(s.cfg.RunCommand)+8)
	argv = append(argv, s.cfg.RunCommand...)
	argv = append(argv, flakeURL, "--")
	if args == nil {
		return argv, nil
	}
	extra, err := shellwords.Parse(*args)
	if err != nil {
		return nil, err
	}
	return append(argv, extra...), nil
}

// Spawn starts the flake without waiting for it. Lexer errors are returned
// unchanged; launch failures wrap ErrSupervisor.
func (s *Supervisor) Spawn(flakeURL string, envVars, args *string) (int, error) {
	argv, err := s.Argv(flakeURL, args)
	if err != nil {
		return 0, err
	}
	vars := env.Var{}
	if envVars != nil {
		vars = env.Parse(*envVars)
	}

	// #nosec G204 -- argv is lexed without a shell and operators are rejected
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env.New().Merge(vars)
	cmd.Stdin = nil
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: start %s: %w", ErrSupervisor, shellwords.Join(argv...), err)
	}
	pid := cmd.Process.Pid
	h := &handle{cmd: cmd, done: make(chan struct{}), startedAt: time.Now()}

	s.mu.Lock()
	s.handles[pid] = h
	n := len(s.handles)
	s.mu.Unlock()
	metrics.SetRunning(n)

	go s.wait(pid, h)
	s.log.Info("process spawned", "pid", pid, "argv", shellwords.Join(argv...))
	return pid, nil
}

func (s *Supervisor) wait(pid int, h *handle) {
	err := h.cmd.Wait()
	close(h.done)
	s.deregister(pid, h)
	if err != nil {
		s.log.Info("process exited", "pid", pid, "uptime", time.Since(h.startedAt).Round(time.Millisecond), "error", err)
		return
	}
	s.log.Info("process exited", "pid", pid, "uptime", time.Since(h.startedAt).Round(time.Millisecond))
}

func (s *Supervisor) deregister(pid int, h *handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	if cur, ok := s.handles[pid]; ok && cur == h {
		delete(s.handles, pid)
	}
	n := len(s.handles)
	s.mu.Unlock()
	metrics.SetRunning(n)
}

// IsRunning trusts the handle map for processes this Supervisor spawned and
// falls back to an OS probe for everything else, including handles already
// marked for termination.
func (s *Supervisor) IsRunning(pid int) bool {
	s.mu.Lock()
	h, ok := s.handles[pid]
	killed := ok && h.killed
	s.mu.Unlock()
	if ok && !killed {
		select {
		case <-h.done:
			return false
		default:
			return true
		}
	}
	return processExists(pid)
}

// Owns reports whether pid was spawned by this Supervisor and has not exited.
func (s *Supervisor) Owns(pid int) bool {
	s.mu.Lock()
	_, ok := s.handles[pid]
	s.mu.Unlock()
	return ok
}

// Tracked returns the pids of live children, ascending.
func (s *Supervisor) Tracked() []int {
	s.mu.Lock()
	out := make([]int, 0, len(s.handles))
	for pid := range s.handles {
		out = append(out, pid)
	}
	s.mu.Unlock()
	sort.Ints(out)
	return out
}

// Terminate sends SIGTERM to the process group, waits up to GracePeriod,
// then sends SIGKILL and waits up to KillTimeout. A process that is already
// gone is not an error. Cancelling ctx skips straight to the forced kill.
func (s *Supervisor) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	s.mu.Lock()
	h := s.handles[pid]
	if h != nil {
		h.killed = true
	}
	s.mu.Unlock()
	defer s.deregister(pid, h)

	var gone func(context.Context, time.Duration) bool
	if h != nil {
		gone = func(ctx context.Context, d time.Duration) bool { return waitDone(ctx, h.done, d) }
	} else {
		if !processExists(pid) {
			return nil
		}
		gone = func(ctx context.Context, d time.Duration) bool { return pollGone(ctx, pid, d) }
	}

	if err := terminateSignal(pid); err != nil {
		return fmt.Errorf("%w: SIGTERM %d: %w", ErrSupervisor, pid, err)
	}
	if gone(ctx, s.cfg.GracePeriod) {
		metrics.IncTermination(false)
		s.log.Info("process terminated", "pid", pid, "mode", "graceful")
		return nil
	}

	s.log.Warn("process did not exit after SIGTERM, escalating", "pid", pid, "grace_period", s.cfg.GracePeriod)
	if err := killSignal(pid); err != nil {
		return fmt.Errorf("%w: SIGKILL %d: %w", ErrSupervisor, pid, err)
	}
	metrics.IncTermination(true)
	// the forced wait is bounded by KillTimeout alone
	if !gone(context.WithoutCancel(ctx), s.cfg.KillTimeout) {
		s.log.Warn("process still present after SIGKILL", "pid", pid, "kill_timeout", s.cfg.KillTimeout)
		return nil
	}
	s.log.Info("process terminated", "pid", pid, "mode", "forced")
	return nil
}

func waitDone(ctx context.Context, done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
	case <-ctx.Done():
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// pollGone is used for processes we cannot wait on, e.g. ones left behind by
// a previous daemon.
func pollGone(ctx context.Context, pid int, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if !processExists(pid) {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return !processExists(pid)
		case <-ctx.Done():
			return !processExists(pid)
		}
	}
}
