package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/platform/logger"
	"github.com/phrazzld/txtasks/internal/store"
)

// JobRequest is a ledger row recording that a job was requested. The row and
// the job's dispatch share a fate: both happen only if the transaction commits.
type JobRequest struct {
	ID        uuid.UUID
	Name      string
	Queue     string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// requestPayload is the JSON stored in job_requests.payload.
type requestPayload struct {
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Countdown time.Duration  `json:"countdown,omitempty"`
}

// NewJobRequest builds the ledger row for j.
func NewJobRequest(j *job.Job, now time.Time) (*JobRequest, error) {
	payload, err := json.Marshal(requestPayload{
		Args:      j.Args,
		Kwargs:    j.Kwargs,
		Countdown: j.Options.Countdown,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job request payload: %w", err)
	}
	return &JobRequest{
		ID:        j.ID,
		Name:      j.Name,
		Queue:     j.Options.Queue,
		Payload:   payload,
		CreatedAt: now.UTC(),
	}, nil
}

// PostgresRequestStore persists JobRequests.
type PostgresRequestStore struct {
	db store.DBTX
}

// NewPostgresRequestStore creates a store on db, which may be a *sql.DB or
// a *sql.Tx.
func NewPostgresRequestStore(db store.DBTX) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

// WithTx returns a store that runs its statements in tx.
func (s *PostgresRequestStore) WithTx(tx *sql.Tx) *PostgresRequestStore {
	return &PostgresRequestStore{db: tx}
}

// Create inserts req.
func (s *PostgresRequestStore) Create(ctx context.Context, req *JobRequest) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO job_requests (id, name, queue, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		req.ID,
		req.Name,
		req.Queue,
		[]byte(req.Payload),
		req.CreatedAt,
	)
	if err != nil {
		log.Error("failed to insert job request",
			"job_id", req.ID,
			"job_name", req.Name,
			"error", err)
		return store.NewStoreError("job_request", "create", "failed to insert job request", MapError(err))
	}

	return nil
}

// GetByID returns the request with id, or an error wrapping store.ErrNotFound.
func (s *PostgresRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*JobRequest, error) {
	query := `
		SELECT id, name, queue, payload, created_at
		FROM job_requests
		WHERE id = $1
	`

	var req JobRequest
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID,
		&req.Name,
		&req.Queue,
		&payload,
		&req.CreatedAt,
	)
	if err != nil {
		return nil, MapError(err)
	}
	req.Payload = payload
	return &req, nil
}

// Count returns the number of recorded requests.
func (s *PostgresRequestStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_requests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count job requests: %w", err)
	}
	return n, nil
}
