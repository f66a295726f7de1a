package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/manthysbr/mangaqueue/internal/core/ports"
)

var _ ports.HistoryRecorder = (*Repository)(nil)

const defaultHistoryLimit = 50

// Record stores one finished dispatch.
func (r *Repository) Record(ctx context.Context, rec domain.HistoryRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_history (id, job_id, status, output, error, dispatched_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.JobID), string(rec.Status),
		nullString(rec.Output), nullString(rec.Error),
		rec.DispatchedAt.UTC(), rec.CompletedAt.UTC(), rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history for %s: %w", rec.JobID, err)
	}
	return nil
}

// List returns the most recent records first. limit <= 0 uses the default.
func (r *Repository) List(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, job_id, status, output, error, dispatched_at, completed_at, duration_ms
		 FROM job_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []domain.HistoryRecord{}
	for rows.Next() {
		var (
			rec            domain.HistoryRecord
			jobID, status  string
			output, errMsg sql.NullString
		)
		if err := rows.Scan(&rec.ID, &jobID, &status, &output, &errMsg,
			&rec.DispatchedAt, &rec.CompletedAt, &rec.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.JobID = domain.JobID(jobID)
		rec.Status = domain.OutcomeStatus(status)
		rec.Output = output.String
		rec.Error = errMsg.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
