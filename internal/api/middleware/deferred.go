package middleware

import (
	"net/http"

	"github.com/phrazzld/txtasks/internal/deferred"
	"github.com/phrazzld/txtasks/internal/platform/logger"
)

// DeferredQueue gives every request its own deferred.Queue. A request is
// served by a single goroutine, so the queue is never shared.
func DeferredQueue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := deferred.NewQueue(logger.FromContext(ctx))
		next.ServeHTTP(w, r.WithContext(deferred.NewContext(ctx, q)))
	})
}
