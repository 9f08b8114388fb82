package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/fordtom/minions/internal/store"
)

type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &DB{db: d, now: time.Now}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processes(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NULL,
			flake_url TEXT NOT NULL CHECK(length(flake_url) > 0),
			args TEXT NULL,
			env_vars TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS process_state(
			process_id BIGINT PRIMARY KEY REFERENCES processes(id) ON DELETE CASCADE,
			status TEXT NOT NULL CHECK(status IN ('STOPPED', 'RUNNING')),
			pid INTEGER NULL,
			started_at TIMESTAMPTZ NULL
		);`,
		`CREATE OR REPLACE FUNCTION minions_create_initial_state() RETURNS trigger AS $$
		BEGIN
			INSERT INTO process_state(process_id, status, pid, started_at)
			VALUES (NEW.id, 'STOPPED', NULL, NULL);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS create_initial_state ON processes;`,
		`CREATE TRIGGER create_initial_state
			AFTER INSERT ON processes
			FOR EACH ROW EXECUTE FUNCTION minions_create_initial_state();`,
		`CREATE INDEX IF NOT EXISTS idx_process_state_status ON process_state(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Create(ctx context.Context, f store.Fields) (int64, error) {
	now := p.now().UTC()
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO processes(name, flake_url, args, env_vars, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $5)
		RETURNING id;`,
		store.NullableString(f.Name), f.FlakeURL, store.NullableString(f.Args), store.NullableString(f.EnvVars), now).Scan(&id)
	return id, err
}

func (p *DB) Get(ctx context.Context, id int64) (store.Process, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+store.ProcessColumns+` FROM processes p WHERE p.id=$1;`, id)
	proc, err := store.ScanProcess(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Process{}, store.ErrNotFound
	}
	return proc, err
}

func (p *DB) List(ctx context.Context) ([]store.Process, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+store.ProcessColumns+` FROM processes p ORDER BY p.id;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Process, 0)
	for rows.Next() {
		proc, err := store.ScanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, proc)
	}
	return out, rows.Err()
}

func (p *DB) Update(ctx context.Context, id int64, f store.Fields) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE processes
		SET name=$1, flake_url=$2, args=$3, env_vars=$4, updated_at=$5
		WHERE id=$6;`,
		store.NullableString(f.Name), f.FlakeURL, store.NullableString(f.Args), store.NullableString(f.EnvVars), p.now().UTC(), id)
	return err
}

func (p *DB) Delete(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM processes WHERE id=$1;`, id)
	return err
}

func (p *DB) GetState(ctx context.Context, id int64) (store.State, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+store.StateColumns+` FROM process_state ps WHERE ps.process_id=$1;`, id)
	st, err := store.ScanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.State{}, store.ErrNotFound
	}
	return st, err
}

func (p *DB) UpsertState(ctx context.Context, id int64, pid *int, status store.Status) error {
	pidVal, startedAt, err := store.StateValues(pid, status, p.now())
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO process_state(process_id, status, pid, started_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(process_id) DO UPDATE SET
			status=EXCLUDED.status,
			pid=EXCLUDED.pid,
			started_at=EXCLUDED.started_at;`,
		id, string(status), pidVal, startedAt)
	return err
}

func (p *DB) GetWithState(ctx context.Context, id int64) (store.ProcessWithState, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+store.ProcessColumns+`, `+store.StateColumns+`
		FROM processes p
		INNER JOIN process_state ps ON ps.process_id = p.id
		WHERE p.id=$1;`, id)
	pw, err := store.ScanProcessWithState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ProcessWithState{}, store.ErrNotFound
	}
	return pw, err
}

func (p *DB) ListWithState(ctx context.Context) ([]store.ProcessWithState, error) {
	rows, err := p.db.QueryContext(ctx, `
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
