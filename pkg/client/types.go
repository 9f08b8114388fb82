package client

import (
	"encoding/json"
	"time"
)

// Input is the body of create and update requests.
type Input struct {
	Name     *string `json:"name,omitempty"`
	FlakeURL string  `json:"flake_url"`
	Args     *string `json:"args,omitempty"`
	EnvVars  *string `json:"env_vars,omitempty"`
}

type State struct {
	ProcessID int64      `json:"process_id"`
	Status    string     `json:"status"`
	PID       *int       `json:"pid"`
	StartedAt *time.Time `json:"started_at"`
}

// Process is a definition together with its runtime state.
type Process struct {
	ID        int64     `json:"id"`
	Name      *string   `json:"name"`
	FlakeURL  string    `json:"flake_url"`
	Args      *string   `json:"args"`
	EnvVars   *string   `json:"env_vars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	State     State     `json:"state"`
}

func (p Process) Running() bool { return p.State.Status == "RUNNING" }

type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ProcessID  int64     `json:"process_id"`
	Name       string    `json:"name,omitempty"`
	FlakeURL   string    `json:"flake_url"`
	PID        *int      `json:"pid,omitempty"`
	Status     string    `json:"status"`
}

type ResourceSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type Resources struct {
	Latest  ResourceSample   `json:"latest"`
	History []ResourceSample `json:"history"`
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}
