package factory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fordtom/minions/internal/history"
	"github.com/fordtom/minions/internal/history/opensearch"
)

func TestNewSinkFromDSN(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{"empty", "", true},
		{"unsupported scheme", "invalid://test", true},
		{"sqlite file", "sqlite://" + filepath.Join(dir, "a.db"), false},
		{"sqlite memory", "sqlite://:memory:", false},
		{"bare path", filepath.Join(dir, "b.db"), false},
		{"opensearch", "opensearch://localhost:9200/process-logs", false},
		{"opensearch without host", "opensearch:///idx", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.dsn, err)
			}
			if c, ok := sink.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		})
	}
}

func TestParseOpenSearchDSN(t *testing.T) {
	s, err := parseOpenSearchDSN("opensearch://search:9200?tls=true")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sink, ok := s.(*opensearch.Sink)
	if !ok {
		t.Fatalf("unexpected sink type %T", s)
	}
	if sink.Index() != opensearch.DefaultIndex {
		t.Fatalf("index = %q", sink.Index())
	}
	s, _ = parseOpenSearchDSN("opensearch://search:9200/process-logs")
	if idx := s.(*opensearch.Sink).Index(); idx != "process-logs" {
		t.Fatalf("index = %q", idx)
	}
}

func TestNewSinkFromConfig(t *testing.T) {
	m, err := NewSinkFromConfig(Config{})
	if err != nil || m != nil {
		t.Fatalf("disabled: got %v, %v", m, err)
	}
	if _, err := NewSinkFromConfig(Config{Enabled: true}); err == nil {
		t.Fatal("expected error when enabled without DSN")
	}
	if _, err := NewSinkFromConfig(Config{Enabled: true, DSN: "sqlite://:memory:", Extra: []string{"nope://x"}}); err == nil {
		t.Fatal("expected error for bad extra DSN")
	}

	dsn := filepath.Join(t.TempDir(), "history.db")
	m, err = NewSinkFromConfig(Config{Enabled: true, DSN: dsn})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	pid := 99
	if err := m.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: time.Now(), ProcessID: 1, FlakeURL: "f", PID: &pid, Status: "RUNNING"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	evs, err := m.Events(ctx, 1, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].PID == nil || *evs[0].PID != pid {
		t.Fatalf("unexpected events: %+v", evs)
	}
}

func TestRedact(t *testing.T) {
	got := redact("postgres://user:secret@db:5432/x")
	if strings.Contains(got, "secret") {
		t.Fatalf("password leaked: %s", got)
	}
}
