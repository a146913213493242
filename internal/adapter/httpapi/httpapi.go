// Package httpapi exposes the Query and Dispatch Services over a read-only
// REST surface, as an alternative front-end alongside Discord and MCP (§6's
// command-surface contract: only Query and Dispatch may be called by any
// front-end). It never opens its own database connection; every handler
// calls through to one of the two services.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/CodeForge/internal/domain"
	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/logger"
	"github.com/Strob0t/CodeForge/internal/middleware"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// QueryReader is the narrow slice of the Query Service the REST surface needs.
type QueryReader interface {
	ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error)
	ListModels(ctx context.Context, filter catalog.ModelListFilter) ([]model.Model, error)
	Stats(ctx context.Context) (*catalog.Stats, error)
}

// Dispatcher is the narrow slice of the Dispatch Service the REST surface needs.
type Dispatcher interface {
	Resolve(ctx context.Context, req dispatch.ResolveRequest) (*dispatch.Resolved, error)
	Forward(ctx context.Context, req dispatch.ForwardRequest) (*dispatch.ForwardResult, error)
}

// Deps wires the services the REST handlers call through.
type Deps struct {
	Query    QueryReader
	Dispatch Dispatcher
}

// NewRouter builds a chi router exposing the REST surface under /api/v1.
// limiter may be nil, in which case no per-IP rate limiting is applied
// (used by tests that don't care about request volume). otelMiddleware may
// be nil, in which case requests are not traced (tests, or OTEL disabled).
func NewRouter(deps Deps, corsOrigin string, limiter *middleware.RateLimiter, otelMiddleware func(http.Handler) http.Handler) http.Handler {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	if otelMiddleware != nil {
		r.Use(otelMiddleware)
	}
	r.Use(cors(corsOrigin))
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if limiter != nil {
		r.Use(limiter.Handler)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/endpoints", h.listEndpoints)
		r.Get("/models", h.searchModels)
		r.Get("/stats", h.getStats)
		r.Post("/resolve", h.resolve)
		r.Post("/chat", h.resolveAndChat)
	})

	return r
}

// cors sets permissive-but-scoped CORS headers for the read-only surface.
func cors(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", logger.RequestID(r.Context()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type handlers struct {
	deps Deps
}

func (h *handlers) listEndpoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := endpoint.ListFilter{
		APIType:    endpoint.APIType(q.Get("api_type")),
		Capability: endpoint.Capability(q.Get("capability")),
		ActiveOnly: q.Get("active_only") == "true",
	}

	endpoints, err := h.deps.Query.ListEndpoints(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (h *handlers) searchModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.ModelListFilter{
		NameContains: q.Get("name_contains"),
		ParamSize:    q.Get("param_size"),
		Quantization: q.Get("quantization"),
		SortBy:       q.Get("sort_by"),
	}

	models, err := h.deps.Query.ListModels(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *handlers) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Query.Stats(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type resolveRequest struct {
	ModelSelector string `json:"model_selector"`
}

func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resolveRequest](w, r)
	if !ok {
		return
	}
	if req.ModelSelector == "" {
		writeError(w, http.StatusBadRequest, "model_selector is required")
		return
	}

	resolved, err := h.deps.Dispatch.Resolve(r.Context(), dispatch.ResolveRequest{ModelSelector: req.ModelSelector})
	if err != nil {
		writeDomainError(w, err, "resolve model")
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

type chatRequest struct {
	ModelSelector string  `json:"model_selector"`
	Prompt        string  `json:"prompt"`
	SystemPrompt  string  `json:"system_prompt"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
}

func (h *handlers) resolveAndChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}
	if req.ModelSelector == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "model_selector and prompt are required")
		return
	}

	resolved, err := h.deps.Dispatch.Resolve(r.Context(), dispatch.ResolveRequest{ModelSelector: req.ModelSelector})
	if err != nil {
		writeDomainError(w, err, "resolve model")
		return
	}

	result, err := h.deps.Dispatch.Forward(r.Context(), dispatch.ForwardRequest{
		Resolved:     *resolved,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		writeDomainError(w, err, "forward chat request")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- request/response helpers ---

const maxRequestBodyBytes = 1 << 20 // 1MiB

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return v, false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, dispatch.ErrModelNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	default:
		writeInternalError(w, err)
	}
}
