package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fordtom/minions/internal/store"
	pg "github.com/fordtom/minions/internal/store/postgres"
	sq "github.com/fordtom/minions/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if IsPostgres(d) {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	return sq.New(d)
}

// Open is NewFromDSN followed by EnsureSchema.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	s, err := NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func IsPostgres(dsn string) bool {
	ld := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://")
}

// SQLitePath returns the database file for a sqlite DSN, or "" for postgres
// and in-memory databases.
func SQLitePath(dsn string) string {
	d := strings.TrimSpace(dsn)
	if d == "" || IsPostgres(d) {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(d), "sqlite://") {
		d = d[len("sqlite://"):]
	}
	if i := strings.IndexByte(d, '?'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "file:")
	if d == "" || d == ":memory:" {
		return ""
	}
	return d
}
