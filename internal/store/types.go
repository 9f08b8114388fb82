package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Status string

const (
	StatusStopped Status = "STOPPED"
	StatusRunning Status = "RUNNING"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusStopped, StatusRunning:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown process status %q", s)
	}
}

// Process is a user-configured invocation target.
type Process struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	FlakeURL  string    `json:"flake_url"`
	Args      *string   `json:"args"`
	EnvVars   *string   `json:"env_vars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields are the user-editable parts of a Process.
type Fields struct {
	Name     *string
	FlakeURL string
	Args     *string
	EnvVars  *string
}

// State is the runtime status of exactly one Process.
// PID and StartedAt are set only while RUNNING.
type State struct {
	ProcessID int64      `json:"process_id"`
	Status    Status     `json:"status"`
	PID       *int       `json:"pid"`
	StartedAt *time.Time `json:"started_at"`
}

type ProcessWithState struct {
	Process
	State State `json:"state"`
}

// RowScanner is satisfied by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// Column order expected by the scan helpers below. Backends select
// processes as p and process_state as ps.
const (
	ProcessColumns = "p.id, p.name, p.flake_url, p.args, p.env_vars, p.created_at, p.updated_at"
	StateColumns   = "ps.process_id, ps.status, ps.pid, ps.started_at"
)

func ScanProcess(r RowScanner) (Process, error) {
	var (
		p             Process
		name, args, e sql.NullString
	)
	if err := r.Scan(&p.ID, &name, &p.FlakeURL, &args, &e, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Process{}, err
	}
	p.Name, p.Args, p.EnvVars = nullString(name), nullString(args), nullString(e)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, nil
}

func ScanState(r RowScanner) (State, error) {
	var (
		s       State
		status  string
		pid     sql.NullInt64
		started sql.NullTime
	)
	if err := r.Scan(&s.ProcessID, &status, &pid, &started); err != nil {
		return State{}, err
	}
	return finishState(s, status, pid, started)
}

func ScanProcessWithState(r RowScanner) (ProcessWithState, error) {
	var (
		pw            ProcessWithState
		name, args, e sql.NullString
		status        string
		pid           sql.NullInt64
		started       sql.NullTime
	)
	err := r.Scan(&pw.ID, &name, &pw.FlakeURL, &args, &e, &pw.CreatedAt, &pw.UpdatedAt,
		&pw.State.ProcessID, &status, &pid, &started)
	if err != nil {
		return ProcessWithState{}, err
	}
	pw.Name, pw.Args, pw.EnvVars = nullString(name), nullString(args), nullString(e)
	pw.CreatedAt, pw.UpdatedAt = pw.CreatedAt.UTC(), pw.UpdatedAt.UTC()
	pw.State, err = finishState(pw.State, status, pid, started)
	return pw, err
}

func finishState(s State, status string, pid sql.NullInt64, started sql.NullTime) (State, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return State{}, err
	}
	s.Status = st
	if pid.Valid {
		v := int(pid.Int64)
		s.PID = &v
	}
	if started.Valid {
		t := started.Time.UTC()
		s.StartedAt = &t
	}
	return s, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// NullableString converts an optional field into a driver value.
func NullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// StateValues normalises an upsert into the persisted (pid, started_at) pair.
func StateValues(pid *int, status Status, now time.Time) (any, any, error) {
	switch status {
	case StatusRunning:
		if pid == nil {
			return nil, nil, ErrPIDRequired
		}
		return int64(*pid), now.UTC(), nil
	case StatusStopped:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown process status %q", status)
	}
}
