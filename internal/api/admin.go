package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felipepmaragno/model-router/internal/auth"
	"github.com/felipepmaragno/model-router/internal/circuitbreaker"
	"github.com/felipepmaragno/model-router/internal/metrics"
)

type CircuitInspector interface {
	Snapshots(ctx context.Context) map[string]circuitbreaker.Snapshot
}

// AdminHandler serves the operator endpoints. When rbac is nil the endpoints
// are unauthenticated.
type AdminHandler struct {
	models   ModelSource
	circuits CircuitInspector
	mux      *http.ServeMux
}

func NewAdminHandler(models ModelSource, circuits CircuitInspector, rbac *auth.RBACMiddleware) *AdminHandler {
	h := &AdminHandler{
		models:   models,
		circuits: circuits,
		mux:      http.NewServeMux(),
	}

	protect := func(p auth.Permission, fn http.HandlerFunc) http.Handler {
		if rbac == nil {
			return fn
		}
		return rbac.Protect(p, fn)
	}

	h.mux.Handle("GET /admin/models", protect(auth.PermissionModelsRead, h.listModels))
	h.mux.Handle("POST /admin/models/refresh", protect(auth.PermissionModelsRefresh, h.refreshModels))
	h.mux.Handle("GET /admin/circuits", protect(auth.PermissionCircuitsRead, h.listCircuits))

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listModels(w http.ResponseWriter, r *http.Request) {
	models := h.models.Discover(r.Context(), false)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

func (h *AdminHandler) refreshModels(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	models := h.models.Discover(r.Context(), true)
	metrics.SetDiscoveredModels(len(models))

	operator := ""
	if op, ok := auth.OperatorFromContext(r.Context()); ok {
		operator = op.Username
	}
	slog.Info("model list refreshed",
		"operator", operator,
		"count", len(models),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

type circuitView struct {
	State string `json:"state"`
	circuitbreaker.Snapshot
}

func (h *AdminHandler) listCircuits(w http.ResponseWriter, r *http.Request) {
	snapshots := h.circuits.Snapshots(r.Context())

	views := make(map[string]circuitView, len(snapshots))
	for model, snap := range snapshots {
		views[model] = circuitView{State: snap.State.String(), Snapshot: snap}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"circuits": views,
		"count":    len(views),
	})
}
