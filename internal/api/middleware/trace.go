package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	traceHeader     = "X-Trace-ID"
	requestIDHeader = "X-Request-ID"
	maxTraceIDLen   = 64
)

// TraceMiddleware propagates the caller's trace id, or mints one, through the
// request context and the X-Trace-ID response header. Upstream proxies that
// only send X-Request-ID are honoured too.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = r.Header.Get(requestIDHeader)
		}
		if !validTraceID(traceID) {
			traceID = uuid.NewString()
		}
		r.Header.Set(traceHeader, traceID)
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

// validTraceID rejects ids that would pollute logs or response headers.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLen {
		return false
	}
	for _, c := range id {
		if c < '!' || c > '~' {
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
