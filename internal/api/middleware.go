package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/postwing/postwing/internal/ratelimit"
)

// rateLimitMiddleware rejects requests that exceed the per-user posting
// budget. Requests carrying no user identity pass through; the handlers
// behind it reject those on their own terms.
func (h *Handler) rateLimitMiddleware(limiter *ratelimit.PerUser) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := requestUserID(r)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Hourly()))
			if !limiter.Allow(userID) {
				h.log.Debugw("request over posting budget", "user_id", userID, "path", r.URL.Path)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{
					"error": fmt.Sprintf("rate limit exceeded: maximum %d requests per hour per user", limiter.Hourly()),
				})
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(userID)))

			next.ServeHTTP(w, r)
		})
	}
}

// requestUserID reads the caller's user identity from the userId query
// parameter, falling back to the X-User-ID header.
func requestUserID(r *http.Request) string {
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	return r.Header.Get("X-User-ID")
}
