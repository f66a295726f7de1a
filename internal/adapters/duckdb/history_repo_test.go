package duckdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/manthysbr/mangaqueue/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS job_history").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo, err := newRepository(db)
	require.NoError(t, err)
	return repo, mock
}

func TestNewRepository_MigrationFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS job_history").
		WillReturnError(errors.New("read-only"))

	_, err = newRepository(db)
	assert.ErrorContains(t, err, "migrate job_history")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Record(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO job_history").
		WithArgs("rec-1", "u_1_2", "SUCCEEDED", "u_1_2.jpg", nil, sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1500)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Record(context.Background(), domain.HistoryRecord{
		ID:           "rec-1",
		JobID:        "u_1_2",
		Status:       domain.OutcomeSucceeded,
		Output:       "u_1_2.jpg",
		DispatchedAt: now.Add(-1500 * time.Millisecond),
		CompletedAt:  now,
		DurationMs:   1500,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RecordError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO job_history").
		WillReturnError(errors.New("disk full"))

	err := repo.Record(context.Background(), domain.HistoryRecord{ID: "rec-2", JobID: "j"})
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List(t *testing.T) {
	repo, mock := newMockRepo(t)
	completed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "job_id", "status", "output", "error", "dispatched_at", "completed_at", "duration_ms"}).
		AddRow("rec-2", "j2", "FAILED", nil, "translate job j2: boom", completed.Add(-time.Second), completed, int64(1000)).
		AddRow("rec-1", "j1", "SUCCEEDED", "j1.jpg", nil, completed.Add(-3*time.Second), completed.Add(-2*time.Second), int64(1000))

	mock.ExpectQuery("SELECT (.+) FROM job_history ORDER BY completed_at DESC LIMIT").
		WithArgs(10).
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, domain.JobID("j2"), records[0].JobID)
	assert.Equal(t, domain.OutcomeFailed, records[0].Status)
	assert.Empty(t, records[0].Output)
	assert.Equal(t, "translate job j2: boom", records[0].Error)

	assert.Equal(t, "j1.jpg", records[1].Output)
	assert.Equal(t, completed.Add(-2*time.Second), records[1].CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListDefaultLimit(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM job_history").
		WithArgs(defaultHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_id", "status", "output", "error", "dispatched_at", "completed_at", "duration_ms"}))

	records, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}
