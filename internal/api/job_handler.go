package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/txtasks/internal/api/shared"
	"github.com/phrazzld/txtasks/internal/deferred"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/platform/logger"
	"github.com/phrazzld/txtasks/internal/platform/postgres"
	"github.com/phrazzld/txtasks/internal/store"
	"github.com/phrazzld/txtasks/internal/task"
)

// errRollbackRequested aborts the transaction when the client asks for it.
var errRollbackRequested = errors.New("rollback requested by client")

// CreateJobRequest represents the request body for submitting a job
type CreateJobRequest struct {
	Name        string         `json:"name" validate:"required,max=255"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
	Queue       string         `json:"queue" validate:"omitempty,max=255"`
	CountdownMS int64          `json:"countdown_ms" validate:"gte=0"`
	Priority    int            `json:"priority" validate:"gte=0,lte=9"`

	// Rollback makes the handler abort its transaction after submitting
	// the job, so the job must be discarded.
	Rollback bool `json:"rollback"`
}

// JobResponse is returned once the request's transaction has exited.
type JobResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Queue      string    `json:"queue"`
	Committed  bool      `json:"committed"`
	Dispatched bool      `json:"dispatched"`
	CreatedAt  time.Time `json:"created_at"`
}

// Transactor runs fn in a transaction scope.
type Transactor interface {
	Atomic(ctx context.Context, fn store.TxFn, opts ...store.AtomicOption) error
}

// JobCatalog reports which job names can be executed. task.Registry
// implements it.
type JobCatalog interface {
	Lookup(name string) (task.HandlerFunc, bool)
}

// JobHandlerOption configures a JobHandler.
type JobHandlerOption func(*JobHandler)

// WithJobCatalog rejects jobs the catalog does not know before any
// transaction is opened.
func WithJobCatalog(c JobCatalog) JobHandlerOption {
	return func(h *JobHandler) { h.catalog = c }
}

// WithQueues rejects jobs routed to a queue outside queues. The default queue
// is always accepted.
func WithQueues(queues ...string) JobHandlerOption {
	return func(h *JobHandler) {
		h.queues = make(map[string]bool, len(queues))
		for _, q := range queues {
			h.queues[q] = true
		}
	}
}

// JobHandler handles job submission requests
type JobHandler struct {
	tx           Transactor
	ledger       *postgres.PostgresRequestStore
	client       *deferred.Client
	defaultQueue string
	catalog      JobCatalog
	queues       map[string]bool // nil accepts any queue
	validator    *validator.Validate
	logger       *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(
	tx Transactor,
	ledger *postgres.PostgresRequestStore,
	client *deferred.Client,
	defaultQueue string,
	logger *slog.Logger,
	opts ...JobHandlerOption,
) *JobHandler {
	if defaultQueue == "" {
		defaultQueue = job.DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	h := &JobHandler{
		tx:           tx,
		ledger:       ledger,
		client:       client,
		defaultQueue: defaultQueue,
		validator:    v,
		logger:       logger,
	}
	for _, o := range opts {
		o(h)
	}
	if h.queues != nil {
		h.queues[defaultQueue] = true
	}
	return h
}

// checkRoutable rejects a job no worker would ever run.
func (h *JobHandler) checkRoutable(name, queue string) error {
	if h.catalog != nil {
		if _, ok := h.catalog.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", task.ErrUnknownJob, name)
		}
	}
	if h.queues != nil && !h.queues[queue] {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	return nil
}

// CreateJob handles POST /api/jobs requests. The job request is recorded and
// the job submitted inside one transaction; the job reaches its backend only
// if that transaction commits.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateJobRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	queue := req.Queue
	if queue == "" {
		queue = h.defaultQueue
	}

	if err := h.checkRoutable(req.Name, queue); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	j, err := job.New(req.Name,
		job.WithArgs(req.Args...),
		job.WithKwargs(req.Kwargs),
		job.WithQueue(queue),
		job.WithCountdown(time.Duration(req.CountdownMS)*time.Millisecond),
		job.WithPriority(req.Priority),
	)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	record, err := postgres.NewJobRequest(j, time.Now())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	err = h.tx.Atomic(r.Context(), func(ctx context.Context, tx *sql.Tx) error {
		if err := h.ledger.WithTx(tx).Create(ctx, record); err != nil {
			return err
		}
		if _, err := h.client.Delay(ctx, j); err != nil {
			return err
		}
		if req.Rollback {
			return errRollbackRequested
		}
		return nil
	})

	response := JobResponse{
		ID:        j.ID.String(),
		Name:      j.Name,
		Queue:     j.Options.Queue,
		CreatedAt: record.CreatedAt,
	}

	switch {
	case errors.Is(err, errRollbackRequested):
		log.Info("job request rolled back", "job_id", j.ID, "job_name", j.Name)
	case err != nil:
		HandleAPIError(w, r, err, "")
		return
	default:
		response.Committed = true
		response.Dispatched = true
		log.Info("job request committed", "job_id", j.ID, "job_name", j.Name, "queue", j.Options.Queue)
	}

	// 202 Accepted: execution happens asynchronously on the backend.
	shared.RespondWithJSON(w, r, http.StatusAccepted, response)
}
