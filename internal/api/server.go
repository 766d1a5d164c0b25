package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/postwing/postwing/internal/ratelimit"
	"github.com/postwing/postwing/internal/relay"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(hub *relay.Hub, limiter *ratelimit.PerUser) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Apply rate limiting middleware to job endpoints
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(h.rateLimitMiddleware(limiter))

	// Job endpoints (rate limited)
	rateLimitedAPI.HandleFunc("/jobs", h.CreateJob).Methods("POST")
	rateLimitedAPI.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	rateLimitedAPI.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	rateLimitedAPI.HandleFunc("/jobs/{id}", h.CancelJob).Methods("DELETE")

	// Stats endpoint (not rate limited - frequent polling)
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	// Account endpoints (not rate limited)
	api.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	api.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	api.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")
	api.HandleFunc("/accounts/{id}/posts", h.GetAccountPosts).Methods("GET")

	// Extension pairing and relay
	api.HandleFunc("/extension/token", h.CreateToken).Methods("POST")
	api.HandleFunc("/extension/token/{token}", h.RevokeToken).Methods("DELETE")
	r.HandleFunc("/api/extension/ws", hub.HandleConnection).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
