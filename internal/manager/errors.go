package manager

import (
	"errors"

	"github.com/fordtom/minions/internal/process"
	"github.com/fordtom/minions/internal/shellwords"
	"github.com/fordtom/minions/internal/store"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("process not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrAlreadyRunning = errors.New("process already running")
	ErrAlreadyStopped = errors.New("process already stopped")
	ErrSupervisor     = process.ErrSupervisor
)

// Kind is the stable, transport-facing name of an error class.
type Kind string

const (
	KindValidation               Kind = "ValidationError"
	KindNotFound                 Kind = "NotFound"
	KindInvalidState             Kind = "InvalidState"
	KindAlreadyRunning           Kind = "AlreadyRunning"
	KindAlreadyStopped           Kind = "AlreadyStopped"
	KindUnsupportedShellOperator Kind = "UnsupportedShellOperator"
	KindSupervisor               Kind = "SupervisorFailure"
	KindInternal                 Kind = "Internal"
)

// KindOf classifies err. nil maps to "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, shellwords.ErrUnsupportedShellOperator):
		return KindUnsupportedShellOperator
	case errors.Is(err, ErrValidation), errors.Is(err, shellwords.ErrUnterminatedQuote):
		return KindValidation
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrAlreadyRunning):
		return KindAlreadyRunning
	case errors.Is(err, ErrAlreadyStopped):
		return KindAlreadyStopped
	case errors.Is(err, ErrSupervisor):
		return KindSupervisor
	}
	return KindInternal
}
