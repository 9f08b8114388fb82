// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fordtom/minions/internal/store"
)

func strPtr(s string) *string { return &s }

// Run exercises s, which must have an ensured, empty schema.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateStartsStopped", func(t *testing.T) {
		id, err := s.Create(ctx, store.Fields{FlakeURL: "github:owner/repo#svc"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		pw, err := s.GetWithState(ctx, id)
		if err != nil {
			t.Fatalf("get with state: %v", err)
		}
		if pw.State.Status != store.StatusStopped || pw.State.PID != nil || pw.State.StartedAt != nil {
			t.Fatalf("unexpected initial state: %+v", pw.State)
		}
		if pw.Name != nil || pw.Args != nil || pw.EnvVars != nil {
			t.Fatalf("omitted optionals should be nil: %+v", pw.Process)
		}
		if pw.CreatedAt.IsZero() || !pw.CreatedAt.Equal(pw.UpdatedAt) {
			t.Fatalf("timestamps: created=%v updated=%v", pw.CreatedAt, pw.UpdatedAt)
		}
	})

	t.Run("RoundTripFields", func(t *testing.T) {
		in := store.Fields{Name: strPtr("web"), FlakeURL: ".#web", Args: strPtr(`--port 80 "a b"`), EnvVars: strPtr("A=1\nB=2")}
		id, err := s.Create(ctx, in)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		p, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if p.ID != id || *p.Name != "web" || p.FlakeURL != ".#web" || *p.Args != *in.Args || *p.EnvVars != *in.EnvVars {
			t.Fatalf("round trip mismatch: %+v", p)
		}
	})

	t.Run("UpdateBumpsUpdatedAt", func(t *testing.T) {
		id, err := s.Create(ctx, store.Fields{FlakeURL: "a", Name: strPtr("before")})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		before, _ := s.Get(ctx, id)
		time.Sleep(10 * time.Millisecond)
		if err := s.Update(ctx, id, store.Fields{FlakeURL: "b", Args: strPtr("-v")}); err != nil {
			t.Fatalf("update: %v", err)
		}
		after, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if after.FlakeURL != "b" || after.Name != nil || after.Args == nil || *after.Args != "-v" {
			t.Fatalf("update not applied: %+v", after)
		}
		if !after.UpdatedAt.After(before.UpdatedAt) {
			t.Fatalf("updated_at not bumped: %v -> %v", before.UpdatedAt, after.UpdatedAt)
		}
		if !after.CreatedAt.Equal(before.CreatedAt) {
			t.Fatalf("created_at changed: %v -> %v", before.CreatedAt, after.CreatedAt)
		}
	})

	t.Run("UpdateAbsentIsNoop", func(t *testing.T) {
		if err := s.Update(ctx, 987654, store.Fields{FlakeURL: "x"}); err != nil {
			t.Fatalf("update absent: %v", err)
		}
	})

	t.Run("StateTransitions", func(t *testing.T) {
		id, err := s.Create(ctx, store.Fields{FlakeURL: "svc"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		before, _ := s.Get(ctx, id)
		pid := 4242
		if err := s.UpsertState(ctx, id, &pid, store.StatusRunning); err != nil {
			t.Fatalf("upsert running: %v", err)
		}
		st, err := s.GetState(ctx, id)
		if err != nil {
			t.Fatalf("get state: %v", err)
		}
		if st.Status != store.StatusRunning || st.PID == nil || *st.PID != pid || st.StartedAt == nil {
			t.Fatalf("unexpected running state: %+v", st)
		}
		if err := s.UpsertState(ctx, id, nil, store.StatusStopped); err != nil {
			t.Fatalf("upsert stopped: %v", err)
		}
		st, _ = s.GetState(ctx, id)
		if st.Status != store.StatusStopped || st.PID != nil || st.StartedAt != nil {
			t.Fatalf("unexpected stopped state: %+v", st)
		}
		after, _ := s.Get(ctx, id)
		if !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Fatalf("state change touched definition: %v -> %v", before.UpdatedAt, after.UpdatedAt)
		}
		if err := s.UpsertState(ctx, id, nil, store.StatusRunning); !errors.Is(err, store.ErrPIDRequired) {
			t.Fatalf("running without pid: %v", err)
		}
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		id, err := s.Create(ctx, store.Fields{FlakeURL: "gone"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		pid := 1
		_ = s.UpsertState(ctx, id, &pid, store.StatusRunning)
		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.Get(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("get after delete: %v", err)
		}
		if _, err := s.GetState(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("state after delete: %v", err)
		}
		if _, err := s.GetWithState(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("with state after delete: %v", err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("second delete should be a no-op: %v", err)
		}
	})

	t.Run("UpsertUnknownFails", func(t *testing.T) {
		pid := 7
		if err := s.UpsertState(ctx, 123456, &pid, store.StatusRunning); err == nil {
			t.Fatalf("expected foreign key failure for unknown process")
		}
	})

	t.Run("ListInCreationOrder", func(t *testing.T) {
		procs, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		withState, err := s.ListWithState(ctx)
		if err != nil {
			t.Fatalf("list with state: %v", err)
		}
		if len(procs) == 0 || len(procs) != len(withState) {
			t.Fatalf("list sizes: %d vs %d", len(procs), len(withState))
		}
		for i := range procs {
			if i > 0 && procs[i-1].ID >= procs[i].ID {
				t.Fatalf("list not in creation order: %d then %d", procs[i-1].ID, procs[i].ID)
			}
			if withState[i].ID != procs[i].ID || withState[i].State.ProcessID != procs[i].ID {
				t.Fatalf("list with state mismatch at %d", i)
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}
