package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/postwing/postwing/internal/contentgen"
	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
	"github.com/postwing/postwing/pkg/models"
)

// JobDispatcher decouples the HTTP layer from the dispatch machinery.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *models.Job) error
	Cancel(ctx context.Context, jobID string) error
	LatestPosts(ctx context.Context, accountID string, count int) ([]string, error)
}

// TokenIssuer mints and revokes connection tokens for extension pairing.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string) (*models.ConnectionToken, error)
	Revoke(ctx context.Context, token string) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	jobs       *store.JobStore
	accounts   *store.AccountStore
	dispatcher JobDispatcher
	tokens     TokenIssuer
	vault      *vault.Vault
	gen        contentgen.Generator
	log        *zap.SugaredLogger
}

// NewHandler creates a new HTTP handler. gen may be nil when no content
// generation backend is configured.
func NewHandler(jobs *store.JobStore, accounts *store.AccountStore, dispatcher JobDispatcher, tokens TokenIssuer, v *vault.Vault, gen contentgen.Generator, log *zap.SugaredLogger) *Handler {
	return &Handler{
		jobs:       jobs,
		accounts:   accounts,
		dispatcher: dispatcher,
		tokens:     tokens,
		vault:      v,
		gen:        gen,
		log:        log,
	}
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Content == "" {
		if req.Persona == "" {
			http.Error(w, "content or persona is required", http.StatusBadRequest)
			return
		}
		if h.gen == nil {
			http.Error(w, "content generation is not configured", http.StatusBadRequest)
			return
		}
		content, err := h.gen.Generate(r.Context(), contentgen.Request{
			Persona:  req.Persona,
			Platform: req.Platform,
			Action:   req.Action,
		})
		if err != nil {
			h.log.Errorw("content generation failed", "error", err)
			http.Error(w, "content generation failed", http.StatusBadGateway)
			return
		}
		req.Content = content
	}

	job, err := h.jobs.Create(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// unscheduled jobs run right away; scheduled ones wait for the scheduler
	if job.ScheduledAt == nil {
		go func() {
			if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
				h.log.Warnw("job failed", "job_id", job.ID, "error", err)
			}
		}()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	job, err := h.jobs.Get(r.Context(), vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.jobs.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// CancelJob handles DELETE /v1/jobs/{id}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.dispatcher.Cancel(r.Context(), vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// CreateAccount handles POST /v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if !req.Platform.Valid() {
		http.Error(w, "unsupported platform", http.StatusBadRequest)
		return
	}

	var payload []byte
	var err error
	switch req.AuthMethod {
	case models.AuthCookies:
		if len(req.Cookies) == 0 {
			http.Error(w, "cookies are required for cookie accounts", http.StatusBadRequest)
			return
		}
		payload, err = h.vault.EncryptJSON(req.Cookies)
	case models.AuthCredentials:
		if req.Credentials == nil {
			http.Error(w, "credentials are required for credential accounts", http.StatusBadRequest)
			return
		}
		payload, err = h.vault.EncryptJSON(req.Credentials)
	case models.AuthExtension:
		// extension accounts carry no server-side secrets
	default:
		http.Error(w, "unsupported auth method", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	account, err := h.accounts.Create(r.Context(), req.UserID, req.Platform, req.AuthMethod, req.Handle, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListAccounts handles GET /v1/accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	accounts, err := h.accounts.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// DeleteAccount handles DELETE /v1/accounts/{id}
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.accounts.Deactivate(r.Context(), vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAccountPosts handles GET /v1/accounts/{id}/posts
func (h *Handler) GetAccountPosts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	count, _ := strconv.Atoi(r.URL.Query().Get("count"))
	if count <= 0 {
		count = 5
	}

	posts, err := h.dispatcher.LatestPosts(r.Context(), vars["id"], count)
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		posts = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"posts": posts})
}

// CreateToken handles POST /v1/extension/token
func (h *Handler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	token, err := h.tokens.Issue(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(token)
}

// RevokeToken handles DELETE /v1/extension/token/{token}
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.tokens.Revoke(r.Context(), vars["token"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, faults.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, faults.ErrUnsupported):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
