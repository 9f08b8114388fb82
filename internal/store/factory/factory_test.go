package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fordtom/minions/internal/store"
)

func TestFactoryDSNSelection(t *testing.T) {
	// Empty DSN -> error
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	// postgres scheme -> postgres driver object (Close immediately; no connect performed by sql.Open)
	pg, err := NewFromDSN("postgres://user@localhost/db")
	if err != nil || pg == nil {
		t.Fatalf("postgres dsn: err=%v obj=%T", err, pg)
	}
	_ = pg.Close()
	// sqlite scheme
	s1, err := NewFromDSN("sqlite://:memory:")
	if err != nil || s1 == nil {
		t.Fatalf("sqlite scheme: err=%v obj=%T", err, s1)
	}
	_ = s1.Close()
	// bare path defaults to sqlite
	s2, err := NewFromDSN(":memory:")
	if err != nil || s2 == nil {
		t.Fatalf("bare sqlite: err=%v obj=%T", err, s2)
	}
	_ = s2.Close()
}

func TestOpenEnsuresSchema(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	id, err := s.Create(ctx, store.Fields{FlakeURL: "x"})
	if err != nil {
		t.Fatalf("create after open: %v", err)
	}
	if st, err := s.GetState(ctx, id); err != nil || st.Status != store.StatusStopped {
		t.Fatalf("state after create: %+v err=%v", st, err)
	}
}

func TestSQLitePath(t *testing.T) {
	tests := map[string]string{
		"minions.db":                    "minions.db",
		"sqlite:///var/lib/m.db":        "/var/lib/m.db",
		"file:/tmp/x.db?_pragma=foo(1)": "/tmp/x.db",
		":memory:":                      "",
		"sqlite://:memory:":             "",
		"postgres://u@h/db":             "",
		"":                              "",
	}
	for in, want := range tests {
		if got := SQLitePath(in); got != want {
			t.Fatalf("SQLitePath(%q) = %q, want %q", in, got, want)
		}
	}
}
