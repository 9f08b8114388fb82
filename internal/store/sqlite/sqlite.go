package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fordtom/minions/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*DB)(nil)

// New opens a SQLite database at path with foreign keys enforced.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	sep := "?"
	if strings.Contains(p, "?") {
		sep = "&"
	}
	dsn := p + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps ":memory:" a single database and serialises writers
	d.SetMaxOpenConns(1)
	return &DB{db: d, now: time.Now}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processes(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NULL,
			flake_url TEXT NOT NULL CHECK(length(flake_url) > 0),
			args TEXT NULL,
			env_vars TEXT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS process_state(
			process_id INTEGER PRIMARY KEY,
			status TEXT NOT NULL CHECK(status IN ('STOPPED', 'RUNNING')),
			pid INTEGER NULL,
			started_at TIMESTAMP NULL,
			FOREIGN KEY(process_id) REFERENCES processes(id) ON DELETE CASCADE
		);`,
		`CREATE TRIGGER IF NOT EXISTS create_initial_state
		AFTER INSERT ON processes
		BEGIN
			INSERT INTO process_state(process_id, status, pid, started_at)
			VALUES (NEW.id, 'STOPPED', NULL, NULL);
		END;`,
		`CREATE INDEX IF NOT EXISTS idx_process_state_status ON process_state(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Create(ctx context.Context, f store.Fields) (int64, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processes(name, flake_url, args, env_vars, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		store.NullableString(f.Name), f.FlakeURL, store.NullableString(f.Args), store.NullableString(f.EnvVars), now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) Get(ctx context.Context, id int64) (store.Process, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+store.ProcessColumns+` FROM processes p WHERE p.id=?;`, id)
	p, err := store.ScanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Process{}, store.ErrNotFound
	}
	return p, err
}

func (s *DB) List(ctx context.Context) ([]store.Process, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+store.ProcessColumns+` FROM processes p ORDER BY p.id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Process, 0)
	for rows.Next() {
		p, err := store.ScanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *DB) Update(ctx context.Context, id int64, f store.Fields) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processes
		SET name=?, flake_url=?, args=?, env_vars=?, updated_at=?
		WHERE id=?;`,
		store.NullableString(f.Name), f.FlakeURL, store.NullableString(f.Args), store.NullableString(f.EnvVars), s.now().UTC(), id)
	return err
}

func (s *DB) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM processes WHERE id=?;`, id)
	return err
}

func (s *DB) GetState(ctx context.Context, id int64) (store.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+store.StateColumns+` FROM process_state ps WHERE ps.process_id=?;`, id)
	st, err := store.ScanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.State{}, store.ErrNotFound
	}
	return st, err
}

func (s *DB) UpsertState(ctx context.Context, id int64, pid *int, status store.Status) error {
	pidVal, startedAt, err := store.StateValues(pid, status, s.now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_state(process_id, status, pid, started_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(process_id) DO UPDATE SET
			status=excluded.status,
			pid=excluded.pid,
			started_at=excluded.started_at;`,
		id, string(status), pidVal, startedAt)
	return err
}

func (s *DB) GetWithState(ctx context.Context, id int64) (store.ProcessWithState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+store.ProcessColumns+`, `+store.StateColumns+`
		FROM processes p
		INNER JOIN process_state ps ON ps.process_id = p.id
		WHERE p.id=?;`, id)
	pw, err := store.ScanProcessWithState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProcessWithState{}, store.ErrNotFound
	}
	return pw, err
}

func (s *DB) ListWithState(ctx context.Context) ([]store.ProcessWithState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+store.ProcessColumns+`, `+store.StateColumns+`
		FROM processes p
		INNER JOIN process_state ps ON ps.process_id = p.id
		ORDER BY p.id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.ProcessWithState, 0)
	for rows.Next() {
		pw, err := store.ScanProcessWithState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pw)
	}
	return out, rows.Err()
}
