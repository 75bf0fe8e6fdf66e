// Package httpapi serves the local status API: membership state, model
// toggles, request statistics, health probes and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"andyhost/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Status() types.StatusResponse
	Models(ctx context.Context) []types.ModelDescriptor
	RefreshModels(ctx context.Context) []types.ModelDescriptor
	ToggleModel(name string) (enabled bool, ok bool)
	UpdateModel(u types.ModelUpdate) (types.ModelDescriptor, bool)
	Stats(ctx context.Context) (types.StatsResponse, error)
	History(ctx context.Context, limit int) ([]types.HistoryEntry, error)
	Connect(ctx context.Context) (types.ConnectionResponse, error)
	Disconnect(ctx context.Context) types.ConnectionResponse
	Ready() bool
}

// History limits for GET /history.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	Logger zerolog.Logger
	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string
}

// NewMux builds the status API router.
func NewMux(svc Service, opts Options) http.Handler {
	h := &handlers{svc: svc, log: opts.Logger.With().Str("component", "httpapi").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(h.accessLog)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/status", h.status)
	r.Get("/models", h.models)
	r.Post("/models/refresh", h.refresh)
	// model names may contain slashes (hf.co/org/model:tag), so they travel in the body
	r.Post("/models/toggle", h.toggle)
	r.Post("/models/update", h.update)
	r.Get("/stats", h.stats)
	r.Get("/history", h.history)
	r.Post("/connect", h.connect)
	r.Post("/disconnect", h.disconnect)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
	log zerolog.Logger
}

// status godoc
// @Summary      Host status
// @Description  Membership state, identity, load and enabled models.
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// models godoc
// @Summary      List models
// @Description  Every model discovered in the backend, with its enabled flag.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.Models(r.Context())})
}

// refresh godoc
// @Summary      Refresh models
// @Description  Drops the cached model list and queries the backend again.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.RefreshResponse
// @Router       /models/refresh [post]
func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	models := h.svc.RefreshModels(r.Context())
	writeJSON(w, http.StatusOK, types.RefreshResponse{Count: len(models), Models: models})
}

// toggle godoc
// @Summary      Toggle a model
// @Description  Offers or withdraws a model from the pool.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.ModelRequest  true  "Model to toggle"
// @Success      200   {object}  types.ToggleResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Router       /models/toggle [post]
func (h *handlers) toggle(w http.ResponseWriter, r *http.Request) {
	var req types.ModelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ModelName == "" {
		writeJSONError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	enabled, ok := h.svc.ToggleModel(req.ModelName)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "model not found: "+req.ModelName)
		return
	}
	writeJSON(w, http.StatusOK, types.ToggleResponse{Name: req.ModelName, Enabled: enabled})
}

// update godoc
// @Summary      Override model settings
// @Description  Overrides capabilities, concurrency or context length of a discovered model. Omitted fields are unchanged.
// @Tags         models
// @Accept       json
// @Produce      json
// @Param        body  body      types.ModelUpdate  true  "Overrides"
// @Success      200   {object}  types.ModelDescriptor
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Router       /models/update [post]
func (h *handlers) update(w http.ResponseWriter, r *http.Request) {
	var u types.ModelUpdate
	if err := decodeBody(w, r, &u); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.ModelName == "" {
		writeJSONError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if u.MaxConcurrent != nil && *u.MaxConcurrent < 1 {
		writeJSONError(w, http.StatusBadRequest, "max_concurrent must be at least 1")
		return
	}
	if u.ContextLength != nil && *u.ContextLength < 1 {
		writeJSONError(w, http.StatusBadRequest, "context_length must be at least 1")
		return
	}
	desc, ok := h.svc.UpdateModel(u)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "model not found: "+u.ModelName)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// stats godoc
// @Summary      Request statistics
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatsResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /stats [get]
func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("stats query failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to read request history")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// history godoc
// @Summary      Recent requests
// @Tags         status
// @Produce      json
// @Param        limit  query     int  false  "Maximum entries (default 50, max 500)"
// @Success      200    {object}  types.HistoryResponse
// @Failure      400    {object}  types.ErrorResponse
// @Failure      500    {object}  types.ErrorResponse
// @Router       /history [get]
func (h *handlers) history(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("history query failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to read request history")
		return
	}
	if entries == nil {
		entries = []types.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, types.HistoryResponse{Entries: entries})
}

// connect godoc
// @Summary      Connect to the pool
// @Description  Resumes registration and joins the pool if not already a member.
// @Tags         pool
// @Produce      json
// @Success      200  {object}  types.ConnectionResponse
// @Failure      502  {object}  types.ErrorResponse
// @Router       /connect [post]
func (h *handlers) connect(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Connect(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// disconnect godoc
// @Summary      Disconnect from the pool
// @Description  Leaves the pool and stops rejoining until the next connect.
// @Tags         pool
// @Produce      json
// @Success      200  {object}  types.ConnectionResponse
// @Router       /disconnect [post]
func (h *handlers) disconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Disconnect(r.Context()))
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not registered"))
}

func (h *handlers) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("dur", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}
