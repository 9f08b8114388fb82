package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrPIDRequired = errors.New("running state requires a pid")
)

// Store persists process definitions and their 1:1 runtime state.
//
// Creating a definition atomically creates its state as STOPPED with no pid,
// and deleting a definition cascades to its state. UpsertState is the only
// place started_at is computed: now for RUNNING, NULL otherwise. State-only
// operations never touch the definition row.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	Create(ctx context.Context, f Fields) (int64, error)
	Get(ctx context.Context, id int64) (Process, error)
	List(ctx context.Context) ([]Process, error)
	// Update replaces the mutable fields and bumps updated_at. No-op when absent.
	Update(ctx context.Context, id int64, f Fields) error
	// Delete removes the definition and, by cascade, its state. No-op when absent.
	Delete(ctx context.Context, id int64) error

	GetState(ctx context.Context, id int64) (State, error)
	UpsertState(ctx context.Context, id int64, pid *int, status Status) error
	GetWithState(ctx context.Context, id int64) (ProcessWithState, error)
	ListWithState(ctx context.Context) ([]ProcessWithState, error)
}
