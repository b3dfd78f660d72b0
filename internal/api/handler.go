package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/model-router/internal/budget"
	"github.com/felipepmaragno/model-router/internal/chunker"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/metrics"
	"github.com/felipepmaragno/model-router/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "0.1.0"

// Router is the routing surface the handler needs.
type Router interface {
	Route(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	CircuitStates() map[string]string
}

type ModelSource interface {
	Discover(ctx context.Context, forceRefresh bool) []domain.ModelDescriptor
}

type HandlerConfig struct {
	Router       Router
	Models       ModelSource
	Splitter     *chunker.Splitter
	Allocator    *budget.Allocator
	Checkers     []HealthChecker
	ReadyTimeout time.Duration
	// ChunkWorkers bounds concurrent document splitting per request.
	ChunkWorkers int
	// Limiter and RateLimitRPM bound /v1/generate per caller. A nil Limiter
	// or a non-positive RPM disables the check.
	Limiter      ratelimit.Limiter
	RateLimitRPM int
}

type Handler struct {
	router       Router
	models       ModelSource
	splitter     *chunker.Splitter
	allocator    *budget.Allocator
	chunkWorkers int
	limiter      ratelimit.Limiter
	rateLimitRPM int
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 2 * time.Second
	}
	splitter := cfg.Splitter
	if splitter == nil {
		splitter = chunker.New()
	}
	allocator := cfg.Allocator
	if allocator == nil {
		allocator = budget.NewAllocator(nil)
	}
	workers := cfg.ChunkWorkers
	if workers <= 0 {
		workers = 4
	}

	h := &Handler{
		router:       cfg.Router,
		models:       cfg.Models,
		splitter:     splitter,
		allocator:    allocator,
		chunkWorkers: workers,
		limiter:      cfg.Limiter,
		rateLimitRPM: cfg.RateLimitRPM,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/generate", h.handleGenerate)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("POST /v1/chunk", h.handleChunk)
	h.mux.HandleFunc("POST /v1/assemble", h.handleAssemble)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleReady(cfg.Checkers, readyTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

// Mount attaches an additional handler, such as the admin surface, under
// pattern.
func (h *Handler) Mount(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.IncrementActiveConnections()
	defer metrics.DecrementActiveConnections()

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", req.RequestID)

	if !h.allow(w, r, req) {
		return
	}

	result, err := h.router.Route(ctx, req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("generation failed", "request_id", req.RequestID, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	cacheHeader := "MISS"
	if result.Metadata.CacheHit {
		cacheHeader = "HIT"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheHeader)
	w.Header().Set("X-Model", result.Metadata.ModelUsed)
	json.NewEncoder(w).Encode(result)
}

// allow applies the per-caller rate limit and writes the rejection itself.
// Limiter errors let the request through.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, req domain.GenerationRequest) bool {
	if h.limiter == nil || h.rateLimitRPM <= 0 {
		return true
	}

	caller := callerKey(r, req)
	d, err := h.limiter.Allow(r.Context(), caller, h.rateLimitRPM)
	if err != nil {
		slog.Warn("rate limiter error", "error", err, "request_id", req.RequestID)
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", d.ResetAt.Format(time.RFC3339))

	if !d.Allowed {
		slog.Warn("rate limit exceeded", "caller", caller, "request_id", req.RequestID)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func callerKey(r *http.Request, req domain.GenerationRequest) string {
	if req.UserID != "" {
		return "user:" + req.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// statusFor maps routing errors onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	if errors.Is(err, context.Canceled) {
		return 499
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}

	var rf *domain.RoutingFailure
	if errors.As(err, &rf) {
		switch {
		case rf.AllRateLimited():
			return http.StatusTooManyRequests
		case rf.NoneConfigured(), rf.AllCircuitOpen():
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusBadGateway
}

type modelsResponse struct {
	Object string                   `json:"object"`
	Data   []domain.ModelDescriptor `json:"data"`
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := h.models.Discover(r.Context(), r.URL.Query().Get("refresh") == "true")
	metrics.SetDiscoveredModels(len(models))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelsResponse{Object: "list", Data: models})
}

type chunkRequest struct {
	Text       string              `json:"text,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
	Documents  []chunker.Document  `json:"documents,omitempty"`
	Curriculum *chunker.Curriculum `json:"curriculum,omitempty"`
	// ContextPreview, when positive, attaches neighbour previews of that many
	// runes to every chunk.
	ContextPreview int `json:"context_preview,omitempty"`
}

type chunkResponse struct {
	Chunks    []domain.Chunk   `json:"chunks,omitempty"`
	Documents [][]domain.Chunk `json:"documents,omitempty"`
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var resp chunkResponse
	switch {
	case req.Curriculum != nil:
		resp.Chunks = chunker.SplitCurriculum(*req.Curriculum)

	case len(req.Documents) > 0:
		docs, err := h.splitter.SplitAll(r.Context(), req.Documents, h.chunkWorkers)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		for _, chunks := range docs {
			if req.ContextPreview > 0 {
				chunker.AttachContext(chunks, req.ContextPreview)
			}
		}
		resp.Documents = docs

	case req.Text != "":
		resp.Chunks = h.splitter.Split(req.Text, req.Metadata)

	default:
		writeError(w, http.StatusBadRequest, "one of text, documents or curriculum is required")
		return
	}

	if req.ContextPreview > 0 && resp.Chunks != nil {
		chunker.AttachContext(resp.Chunks, req.ContextPreview)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type assembleRequest struct {
	Sections      []budget.Section `json:"sections"`
	TotalBudget   int              `json:"total_budget"`
	OutputReserve int              `json:"output_reserve"`
}

func (h *Handler) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalBudget <= 0 || req.OutputReserve < 0 {
		writeError(w, http.StatusBadRequest, "total_budget must be positive and output_reserve non-negative")
		return
	}

	prompt := h.allocator.Allocate(req.Sections, req.TotalBudget, req.OutputReserve)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(prompt)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := h.router.CircuitStates()

	status := "healthy"
	for _, state := range states {
		if state != "closed" {
			status = "degraded"
			break
		}
	}

	resp := map[string]interface{}{
		"status":           status,
		"version":          Version,
		"circuit_breakers": states,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
