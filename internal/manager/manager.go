// Package manager is the lifecycle orchestrator. It enforces the
// STOPPED <-> RUNNING state machine over a Store and a Supervisor and keeps
// persisted state in line with what the OS reports.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fordtom/minions/internal/history"
	"github.com/fordtom/minions/internal/metrics"
	"github.com/fordtom/minions/internal/store"
)

// ErrNoHistory is returned by History when no readable sink is configured.
var ErrNoHistory = fmt.Errorf("%w: history not configured", ErrNotFound)

// Supervisor is the subset of *process.Supervisor the manager drives.
type Supervisor interface {
	Spawn(flakeURL string, envVars, args *string) (int, error)
	IsRunning(pid int) bool
	Terminate(ctx context.Context, pid int) error
	Owns(pid int) bool
}

// Input is the user-supplied part of a process definition. Update replaces
// every field, so an omitted optional clears it.
type Input struct {
	Name     *string `json:"name,omitempty"`
	FlakeURL string  `json:"flake_url"`
	Args     *string `json:"args,omitempty"`
	EnvVars  *string `json:"env_vars,omitempty"`
}

func (in Input) validate() error {
	if strings.TrimSpace(in.FlakeURL) == "" {
		return fmt.Errorf("%w: flake_url is required", ErrValidation)
	}
	return nil
}

func (in Input) fields() store.Fields {
	return store.Fields{Name: in.Name, FlakeURL: in.FlakeURL, Args: in.Args, EnvVars: in.EnvVars}
}

type Manager struct {
	st    store.Store
	sup   Supervisor
	sink  history.Sink
	log   *slog.Logger
	locks *keyedMutex
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithHistory sends lifecycle events to s. Delivery is best-effort.
func WithHistory(s history.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

func New(st store.Store, sup Supervisor, opts ...Option) *Manager {
	m := &Manager{st: st, sup: sup, log: slog.Default(), locks: newKeyedMutex()}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) List(ctx context.Context) (_ []store.ProcessWithState, err error) {
	defer m.observe("list", &err)
	out, err := m.st.ListWithState(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id int64) (_ store.ProcessWithState, err error) {
	defer m.observe("get", &err)
	return m.load(ctx, id)
}

func (m *Manager) Create(ctx context.Context, in Input) (_ store.ProcessWithState, err error) {
	defer m.observe("create", &err)
	if err := in.validate(); err != nil {
		return store.ProcessWithState{}, err
	}
	id, err := m.st.Create(ctx, in.fields())
	if err != nil {
		return store.ProcessWithState{}, fmt.Errorf("create process: %w", err)
	}
	p, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	m.log.Info("process created", "id", id, "flake_url", p.FlakeURL)
	m.emit(ctx, history.EventCreate, p)
	return p, nil
}

func (m *Manager) Update(ctx context.Context, id int64, in Input) (_ store.ProcessWithState, err error) {
	defer m.observe("update", &err)
	if err := in.validate(); err != nil {
		return store.ProcessWithState{}, err
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	if cur.State.Status == store.StatusRunning {
		return store.ProcessWithState{}, fmt.Errorf("%w: process %d is running, stop it before editing", ErrInvalidState, id)
	}
	if err := m.st.Update(ctx, id, in.fields()); err != nil {
		return store.ProcessWithState{}, fmt.Errorf("update process %d: %w", id, err)
	}
	p, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	m.log.Info("process updated", "id", id)
	m.emit(ctx, history.EventUpdate, p)
	return p, nil
}

// Delete terminates a running process before removing its records.
func (m *Manager) Delete(ctx context.Context, id int64) (_ int64, err error) {
	defer m.observe("delete", &err)
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if cur.State.Status == store.StatusRunning && cur.State.PID != nil {
		if err := m.sup.Terminate(ctx, *cur.State.PID); err != nil {
			return 0, err
		}
		metrics.IncStop()
	}
	if err := m.st.Delete(ctx, id); err != nil {
		return 0, fmt.Errorf("delete process %d: %w", id, err)
	}
	m.log.Info("process deleted", "id", id)
	cur.State = store.State{ProcessID: id, Status: store.StatusStopped}
	m.emit(ctx, history.EventDelete, cur)
	return id, nil
}

// Start launches the flake. A RUNNING record whose pid is gone is treated as
// stopped and overwritten.
func (m *Manager) Start(ctx context.Context, id int64) (_ store.ProcessWithState, err error) {
	defer m.observe("start", &err)
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	if cur.State.Status == store.StatusRunning {
		if cur.State.PID != nil && m.sup.IsRunning(*cur.State.PID) {
			return store.ProcessWithState{}, fmt.Errorf("%w: process %d has pid %d", ErrAlreadyRunning, id, *cur.State.PID)
		}
		m.log.Warn("stale running state, restarting", "id", id, "pid", derefPID(cur.State.PID))
	}

	pid, err := m.sup.Spawn(cur.FlakeURL, cur.EnvVars, cur.Args)
	if err != nil {
		metrics.IncStart(false)
		return store.ProcessWithState{}, err
	}
	if err := m.st.UpsertState(ctx, id, &pid, store.StatusRunning); err != nil {
		metrics.IncStart(false)
		// nothing references the child now
		if terr := m.sup.Terminate(context.WithoutCancel(ctx), pid); terr != nil {
			m.log.Error("failed to clean up unrecorded process", "id", id, "pid", pid, "error", terr)
		}
		return store.ProcessWithState{}, fmt.Errorf("record start of process %d: %w", id, err)
	}
	metrics.IncStart(true)
	p, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	m.log.Info("process started", "id", id, "pid", pid)
	m.emit(ctx, history.EventStart, p)
	return p, nil
}

// Stop terminates the process if it is still alive and records STOPPED.
func (m *Manager) Stop(ctx context.Context, id int64) (_ store.ProcessWithState, err error) {
	defer m.observe("stop", &err)
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	if cur.State.Status == store.StatusStopped {
		return store.ProcessWithState{}, fmt.Errorf("%w: process %d", ErrAlreadyStopped, id)
	}
	if cur.State.PID != nil && m.sup.IsRunning(*cur.State.PID) {
		if err := m.sup.Terminate(ctx, *cur.State.PID); err != nil {
			return store.ProcessWithState{}, err
		}
	}
	if err := m.st.UpsertState(ctx, id, nil, store.StatusStopped); err != nil {
		return store.ProcessWithState{}, fmt.Errorf("record stop of process %d: %w", id, err)
	}
	metrics.IncStop()
	p, err := m.load(ctx, id)
	if err != nil {
		return store.ProcessWithState{}, err
	}
	m.log.Info("process stopped", "id", id, "pid", derefPID(cur.State.PID))
	m.emit(ctx, history.EventStop, p)
	return p, nil
}

// Reconcile marks RUNNING records whose pid is no longer alive as STOPPED and
// returns their ids. It never scans the OS for unknown processes.
func (m *Manager) Reconcile(ctx context.Context) (_ []int64, err error) {
	defer m.observe("reconcile", &err)
	all, err := m.st.ListWithState(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	fixed := make([]int64, 0)
	for _, p := range all {
		if p.State.Status != store.StatusRunning {
			continue
		}
		ok, err := m.reconcileOne(ctx, p.ID)
		if err != nil {
			return fixed, err
		}
		if ok {
			fixed = append(fixed, p.ID)
		}
	}
	if len(fixed) > 0 {
		m.log.Info("reconciled stale processes", "ids", fixed)
	}
	return fixed, nil
}

func (m *Manager) reconcileOne(ctx context.Context, id int64) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.State.Status != store.StatusRunning {
		return false, nil
	}
	if cur.State.PID != nil && m.sup.IsRunning(*cur.State.PID) {
		return false, nil
	}
	if err := m.st.UpsertState(ctx, id, nil, store.StatusStopped); err != nil {
		return false, fmt.Errorf("reconcile process %d: %w", id, err)
	}
	cur.State = store.State{ProcessID: id, Status: store.StatusStopped}
	m.emit(ctx, history.EventReconcile, cur)
	return true, nil
}

// Shutdown stops every RUNNING process this instance spawned itself.
// Processes started by an earlier daemon are left alone.
func (m *Manager) Shutdown(ctx context.Context) error {
	all, err := m.st.ListWithState(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	var errs []error
	for _, p := range all {
		if p.State.Status != store.StatusRunning || p.State.PID == nil || !m.sup.Owns(*p.State.PID) {
			continue
		}
		if _, err := m.Stop(ctx, p.ID); err != nil && !errors.Is(err, ErrAlreadyStopped) {
			errs = append(errs, fmt.Errorf("stop %d: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// History returns recorded lifecycle events for id, newest first. Events of
// deleted processes remain readable.
func (m *Manager) History(ctx context.Context, id int64, limit int) ([]history.Event, error) {
	r, ok := m.sink.(history.Reader)
	if !ok {
		return nil, ErrNoHistory
	}
	evs, err := r.Events(ctx, id, limit)
	if errors.Is(err, history.ErrNotReadable) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return evs, nil
}

// ResourceTargets maps the id of every RUNNING record to its pid, for the
// resource collector.
func (m *Manager) ResourceTargets(ctx context.Context) map[string]int32 {
	all, err := m.st.ListWithState(ctx)
	if err != nil {
		m.log.Debug("resource targets unavailable", "error", err)
		return nil
	}
	out := make(map[string]int32, len(all))
	for _, p := range all {
		if p.State.Status == store.StatusRunning && p.State.PID != nil {
			out[strconv.FormatInt(p.ID, 10)] = int32(*p.State.PID)
		}
	}
	return out
}

// Ping checks the store.
func (m *Manager) Ping(ctx context.Context) error { return m.st.Ping(ctx) }

func (m *Manager) load(ctx context.Context, id int64) (store.ProcessWithState, error) {
	p, err := m.st.GetWithState(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.ProcessWithState{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return store.ProcessWithState{}, fmt.Errorf("get process %d: %w", id, err)
	}
	return p, nil
}

func (m *Manager) emit(ctx context.Context, typ history.EventType, p store.ProcessWithState) {
	if m.sink == nil {
		return
	}
	e := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		ProcessID:  p.ID,
		FlakeURL:   p.FlakeURL,
		PID:        p.State.PID,
		Status:     string(p.State.Status),
	}
	if p.Name != nil {
		e.Name = *p.Name
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.sink.Send(sctx, e); err != nil {
		m.log.Warn("history send failed", "type", typ, "id", p.ID, "error", err)
	}
}

func (m *Manager) observe(op string, err *error) {
	if *err == nil {
		return
	}
	kind := KindOf(*err)
	metrics.IncFailure(op, string(kind))
	if kind == KindInternal || kind == KindSupervisor {
		m.log.Error("operation failed", "op", op, "error", *err)
		return
	}
	m.log.Debug("operation rejected", "op", op, "kind", kind, "error", *err)
}

func derefPID(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
