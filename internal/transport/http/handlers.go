package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

const (
	secretHeader   = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes = 1 << 20
)

type jobUseCases interface {
	Job(id string) (book.Job, bool)
	Jobs(userID int64) []book.Job
	Position(id string) int
	QueueSize() int
	QueueCapacity() int
	Cancel(ctx context.Context, id string, userID int64) (book.Job, error)
}

type preferenceStore interface {
	Get(ctx context.Context, userID int64) (book.Format, error)
	Set(ctx context.Context, userID int64, format book.Format) error
}

type tokenChecker interface {
	APIProtected() bool
	Authenticate(token string) error
}

type updateHandler interface {
	HandleUpdate(ctx context.Context, u tg.Update)
}

// Options carry the optional parts of the HTTP surface.
type Options struct {
	// Updates receives webhook deliveries; nil disables the endpoint.
	Updates       updateHandler
	WebhookSecret string
	// Health is probed by /api/health when set.
	Health func(ctx context.Context) error
}

type Handler struct {
	jobs   jobUseCases
	prefs  preferenceStore
	auth   tokenChecker
	opts   Options
	logger zerolog.Logger
}

// NewHandler wires HTTP handlers with application use cases.
func NewHandler(jobs jobUseCases, prefs preferenceStore, auth tokenChecker, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		jobs:   jobs,
		prefs:  prefs,
		auth:   auth,
		opts:   opts,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

type jobResponse struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"userId"`
	FileName  string     `json:"fileName"`
	FileSize  int64      `json:"fileSize"`
	Format    string     `json:"format"`
	State     string     `json:"state"`
	Position  int        `json:"position,omitempty"`
	Title     string     `json:"title,omitempty"`
	Authors   []string   `json:"authors,omitempty"`
	Error     string     `json:"error,omitempty"`
	QueuedAt  int64      `json:"queuedAt"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

func (h *Handler) toResponse(job book.Job) jobResponse {
	resp := jobResponse{
		ID:       job.ID,
		UserID:   job.UserID,
		FileName: job.FileName,
		FileSize: job.FileSize,
		Format:   string(job.Format),
		State:    string(job.State),
		Title:    job.Info.Title,
		Authors:  job.Info.Authors,
		Error:    job.Error,
		QueuedAt: job.QueuedAt.Unix(),
	}
	if job.State == book.StateQueued {
		resp.Position = h.jobs.Position(job.ID)
	}
	if !job.StartedAt.IsZero() {
		started := job.StartedAt
		resp.StartedAt = &started
	}
	return resp
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("health probe failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"queue":    h.jobs.QueueSize(),
		"capacity": h.jobs.QueueCapacity(),
	})
}

// Queue handles GET /api/queue.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.Jobs(0)
	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, h.toResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"size":     h.jobs.QueueSize(),
		"capacity": h.jobs.QueueCapacity(),
		"jobs":     resp,
	})
}

// GetJob handles GET /api/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.Job(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(job))
}

// CancelJob handles DELETE /api/jobs/{id}.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(r.Context(), mux.Vars(r)["id"], 0)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.toResponse(job))
	case errors.Is(err, conversion.ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, conversion.ErrJobStarted):
		http.Error(w, "Job already started", http.StatusConflict)
	default:
		h.logger.Error().Err(err).Msg("cancel failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// GetFormat handles GET /api/users/{id}/format.
func (h *Handler) GetFormat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	format, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("preference lookup failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "format": format})
}

// SetFormat handles PUT /api/users/{id}/format.
func (h *Handler) SetFormat(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Format string `json:"format"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	format, err := book.ParseFormat(body.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.prefs.Set(r.Context(), userID, format); err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("preference update failed")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"userId": userID, "format": format})
}

// Webhook handles POST /telegram/webhook. The update is processed after
// the response is written so Telegram does not redeliver slow uploads.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.opts.Updates == nil {
		http.Error(w, "Webhook disabled", http.StatusNotFound)
		return
	}
	if h.opts.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.WebhookSecret)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var update tg.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&update); err != nil {
		http.Error(w, "Invalid update", http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go h.opts.Updates.HandleUpdate(ctx, update)
	w.WriteHeader(http.StatusOK)
}

// requireToken guards the admin API with a bearer token when one is set.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth == nil || !h.auth.APIProtected() {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if err := h.auth.Authenticate(token); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kindlegarden"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
