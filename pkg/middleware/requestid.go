package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/platinummonkey/assetguard/pkg/contextkeys"
	"github.com/platinummonkey/assetguard/pkg/observability"
)

// RequestIDHeader carries the correlation id in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID tags each request with a correlation id and a logger carrying it
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := contextkeys.WithRequestID(r.Context(), id)
			ctx = observability.WithLogger(ctx, logger.WithField("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
