package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreate    EventType = "create"
	EventUpdate    EventType = "update"
	EventStart     EventType = "start"
	EventStop      EventType = "stop"
	EventDelete    EventType = "delete"
	EventReconcile EventType = "reconcile"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ProcessID  int64     `json:"process_id"`
	Name       string    `json:"name,omitempty"`
	FlakeURL   string    `json:"flake_url"`
	PID        *int      `json:"pid,omitempty"`
	Status     string    `json:"status"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can replay what they stored.
type Reader interface {
	Events(ctx context.Context, processID int64, limit int) ([]Event, error)
}

// ErrNotReadable is returned by Multi.Events when none of its sinks is a Reader.
var ErrNotReadable = errors.New("no readable history sink configured")

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Events reads from the first sink that supports it.
func (m Multi) Events(ctx context.Context, processID int64, limit int) ([]Event, error) {
	for _, s := range m {
		if r, ok := s.(Reader); ok {
			return r.Events(ctx, processID, limit)
		}
	}
	return nil, ErrNotReadable
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
