package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fordtom/minions/pkg/client"
)

type fakeAPI struct {
	mu      sync.Mutex
	procs   []client.Process
	calls   []string
	failing error
}

func (f *fakeAPI) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeAPI) List(context.Context) ([]client.Process, error) {
	f.record("list")
	return f.procs, f.failing
}

func (f *fakeAPI) Start(_ context.Context, id int64) (client.Process, error) {
	f.record("start")
	return client.Process{ID: id}, f.failing
}

func (f *fakeAPI) Stop(_ context.Context, id int64) (client.Process, error) {
	f.record("stop")
	return client.Process{ID: id}, f.failing
}

func (f *fakeAPI) Delete(context.Context, int64) error {
	f.record("delete")
	return f.failing
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, api *fakeAPI) *App {
	t.Helper()
	a := New(api, time.Second)
	msg := a.fetch()()
	a.Update(msg)
	return a
}

func sample() []client.Process {
	pid := 4321
	now := time.Now()
	name := "web"
	return []client.Process{
		{ID: 1, Name: &name, FlakeURL: "github:o/r#web", State: client.State{Status: "RUNNING", PID: &pid, StartedAt: &now}},
		{ID: 2, FlakeURL: "github:o/r#worker", State: client.State{Status: "STOPPED"}},
	}
}

func TestRowsRenderState(t *testing.T) {
	r := rows(sample())
	if len(r) != 2 {
		t.Fatalf("rows = %d", len(r))
	}
	if r[0][1] != "web" || r[0][3] != "RUNNING" || r[0][4] != "4321" {
		t.Fatalf("running row = %v", r[0])
	}
	if r[1][1] != "-" || r[1][4] != "-" || r[1][5] != "-" {
		t.Fatalf("stopped row = %v", r[1])
	}
}

func TestStartAndStopKeys(t *testing.T) {
	api := &fakeAPI{procs: sample()}
	a := loaded(t, api)

	_, cmd := a.Update(key("s"))
	if cmd == nil || !a.busy {
		t.Fatal("start key did not issue a command")
	}
	msg := cmd()
	am, ok := msg.(actionMsg)
	if !ok || am.id != 1 || am.err != nil {
		t.Fatalf("unexpected msg %#v", msg)
	}
	_, cmd = a.Update(am)
	if a.busy || !strings.Contains(a.message, "start 1 done") {
		t.Fatalf("message = %q busy=%v", a.message, a.busy)
	}
	if _, ok := cmd().(processesMsg); !ok {
		t.Fatal("action should trigger a refresh")
	}

	_, cmd = a.Update(key("x"))
	_ = cmd()
	if api.calls[len(api.calls)-1] != "stop" {
		t.Fatalf("calls = %v", api.calls)
	}
}

func TestDeleteNeedsConfirmation(t *testing.T) {
	api := &fakeAPI{procs: sample()}
	a := loaded(t, api)

	_, cmd := a.Update(key("d"))
	if cmd != nil || a.confirm != 1 {
		t.Fatalf("delete should ask first, confirm=%d", a.confirm)
	}
	if !strings.Contains(a.View(), "y/n") {
		t.Fatal("confirmation prompt not shown")
	}
	_, cmd = a.Update(key("n"))
	if cmd != nil || a.confirm != 0 || a.message != "delete cancelled" {
		t.Fatalf("cancel failed: %q", a.message)
	}

	a.Update(key("d"))
	_, cmd = a.Update(key("y"))
	if cmd == nil {
		t.Fatal("confirmed delete issued no command")
	}
	_ = cmd()
	if api.calls[len(api.calls)-1] != "delete" {
		t.Fatalf("calls = %v", api.calls)
	}
}

func TestErrorsAreShown(t *testing.T) {
	api := &fakeAPI{procs: sample()}
	a := loaded(t, api)
	api.failing = errors.New("AlreadyRunning: process 1")

	_, cmd := a.Update(key("s"))
	a.Update(cmd())
	if !a.isErr || !strings.Contains(a.message, "AlreadyRunning") {
		t.Fatalf("error not surfaced: %q", a.message)
	}

	a.Update(processesMsg{err: errors.New("connection refused")})
	if !a.isErr || !strings.Contains(a.View(), "refresh failed") {
		t.Fatalf("refresh error not shown: %q", a.message)
	}
	if len(a.procs) != 2 {
		t.Fatal("failed refresh must keep the last good list")
	}
}

func TestQuitAndRefresh(t *testing.T) {
	a := loaded(t, &fakeAPI{})
	if _, cmd := a.Update(key("q")); cmd == nil {
		t.Fatal("q should quit")
	} else if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not return tea.Quit")
	}
	_, cmd := a.Update(key("r"))
	if _, ok := cmd().(processesMsg); !ok {
		t.Fatal("r should refresh")
	}
	// no selection: action keys are ignored
	if _, cmd := a.Update(key("s")); a.busy {
		t.Fatalf("start with empty table, cmd=%v", cmd)
	}
}

func TestWindowResize(t *testing.T) {
	a := loaded(t, &fakeAPI{procs: sample()})
	a.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	if a.width != 160 || a.height != 40 {
		t.Fatalf("size not stored")
	}
	if !strings.Contains(a.View(), "github:o/r#web") {
		t.Fatal("view missing flake url")
	}
}
