package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
)

// Repository is the DuckDB-backed audit store.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the database file at path. An empty
// path gives an in-memory database.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %q: %w", path, err)
	}
	// DuckDB allows a single writer per process.
	db.SetMaxOpenConns(1)

	repo, err := newRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func newRepository(db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.migrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

const createJobHistory = `CREATE TABLE IF NOT EXISTS job_history (
	id VARCHAR PRIMARY KEY,
	job_id VARCHAR NOT NULL,
	status VARCHAR NOT NULL,
	output VARCHAR,
	error VARCHAR,
	dispatched_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL
)`

func (r *Repository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJobHistory); err != nil {
		return fmt.Errorf("failed to migrate job_history: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
