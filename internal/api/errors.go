package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/txtasks/internal/api/shared"
	"github.com/phrazzld/txtasks/internal/deferred"
	"github.com/phrazzld/txtasks/internal/job"
	"github.com/phrazzld/txtasks/internal/store"
	"github.com/phrazzld/txtasks/internal/task"
)

// ErrUnknownQueue is returned when a job is routed to a queue no worker
// consumes.
var ErrUnknownQueue = errors.New("queue is not consumed")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var dispatchErr *deferred.DispatchError
	switch {
	// Committed, but the backend refused the job. Checked first: the cause
	// may be any of the backend errors below.
	case errors.As(err, &dispatchErr):
		return http.StatusBadGateway

	case errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, task.ErrUnknownJob),
		errors.Is(err, ErrUnknownQueue),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var dispatchErr *deferred.DispatchError
	switch {
	case errors.As(err, &dispatchErr):
		return "Job recorded but could not be dispatched"

	case errors.Is(err, task.ErrUnknownJob):
		return "Unknown job"

	case errors.Is(err, ErrUnknownQueue):
		return "Unknown queue"

	case errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid job"

	case errors.Is(err, store.ErrDuplicate):
		return "Job already exists"

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Job queue unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the error response matching err. A non-empty
// message overrides the default user-facing message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), message, err)
}

// SanitizeValidationError turns validator errors into a client-safe message
// naming the first failing field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Validation error"
	}

	fe := verrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
