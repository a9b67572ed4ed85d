package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/seller-ledger/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits unauthenticated traffic (probes, docs, order intake) per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("rate limit of %d req/s exceeded for this client", rps))),
	)
}

// AuthRateLimiter limits authenticated sellers and admins by user id, so one
// seller cannot starve others behind the same NAT.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID := UserIDFromContext(r.Context()); userID != "" {
				return UserRoleFromContext(r.Context()) + ":" + userID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(fmt.Sprintf("rate limit of %d req/s exceeded for this user", rps))),
	)
}

func limitExceeded(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "", detail)
	}
}
