package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/platform/postgres"
	"github.com/phrazzld/txtasks/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func newRequest(t *testing.T) *postgres.JobRequest {
	t.Helper()
	j, err := job.New("send_email",
		job.WithQueue("mail"),
		job.WithArgs("a@example.com"),
		job.WithKwargs(map[string]any{"subject": "hi"}))
	require.NoError(t, err)

	req, err := postgres.NewJobRequest(j, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return req
}

func TestNewJobRequest(t *testing.T) {
	req := newRequest(t)

	assert.Equal(t, "send_email", req.Name)
	assert.Equal(t, "mail", req.Queue)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	assert.Equal(t, []any{"a@example.com"}, payload["args"])
	assert.Equal(t, map[string]any{"subject": "hi"}, payload["kwargs"])
	assert.NotContains(t, payload, "countdown")
}

func TestPostgresRequestStore_Create(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)
	req := newRequest(t)

	mock.ExpectExec("INSERT INTO job_requests").
		WithArgs(req.ID, req.Name, req.Queue, []byte(req.Payload), req.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), req))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestStore_CreateError(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)

	dbErr := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO job_requests").WillReturnError(dbErr)

	err := s.Create(context.Background(), newRequest(t))
	assert.ErrorIs(t, err, dbErr)

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "job_request", storeErr.Entity)
	assert.Equal(t, "create", storeErr.Operation)
}

func TestPostgresRequestStore_WithTx(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)
	req := newRequest(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO job_requests").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	err := store.NewTxManager(db).Atomic(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if err := s.WithTx(tx).Create(ctx, req); err != nil {
			return err
		}
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRequestStore_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)
	req := newRequest(t)

	rows := sqlmock.NewRows([]string{"id", "name", "queue", "payload", "created_at"}).
		AddRow(req.ID.String(), req.Name, req.Queue, []byte(req.Payload), req.CreatedAt)
	mock.ExpectQuery("SELECT id, name, queue, payload, created_at FROM job_requests").
		WithArgs(req.ID).
		WillReturnRows(rows)

	got, err := s.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Name, got.Name)
	assert.JSONEq(t, string(req.Payload), string(got.Payload))
	assert.True(t, req.CreatedAt.Equal(got.CreatedAt))
}

func TestPostgresRequestStore_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)

	mock.ExpectQuery("SELECT id, name, queue, payload, created_at FROM job_requests").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresRequestStore_Count(t *testing.T) {
	db, mock := newMockDB(t)
	s := postgres.NewPostgresRequestStore(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM job_requests`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
