package anchoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"herb-trace/internal/domain/audit"
	"herb-trace/internal/domain/collections"
	"herb-trace/internal/middleware"
	"herb-trace/internal/platform/apperr"

	"github.com/go-chi/chi/v5"
)

// AuditLister lo implementa *audit.Recorder.
type AuditLister interface {
	List(ctx context.Context, eventID string) ([]audit.Entry, error)
}

// Admin agrupa lo que necesitan las operaciones de operador.
type Admin struct {
	Sweeper           *Sweeper
	Scheduler         *Scheduler
	Events            collections.Repository
	Audit             AuditLister
	DefaultMaxRetries int
}

func RegisterAdminRoutes(r chi.Router, admin *Admin) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Post("/retry-failed", retryFailedHandler(admin))
		ar.Get("/stats", statsHandler(admin))
		ar.Get("/events/{eventID}/audit", auditTrailHandler(admin))
	})
}

// retryFailedRequest es el cuerpo opcional de POST /admin/retry-failed.
type retryFailedRequest struct {
	MaxRetries *int `json:"maxRetries,omitempty"`
}

// statsResponse: eventos por status y jobs por estado de cola.
type statsResponse struct {
	Events map[collections.Status]int `json:"events"`
	Jobs   map[State]int              `json:"jobs"`
}

// retryFailedHandler godoc
// @Summary Reintentar eventos failed
// @Description Re-encola con prioridad baja los eventos failed con retryCount < maxRetries. Requiere rol admin.
// @Tags admin
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev"
// @Param X-Debug-Role header string false "Solo en modo dev (admin)"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body retryFailedRequest false "maxRetries opcional"
// @Success 200 {object} SweepResult
// @Failure 400 {object} map[string]any "maxRetries inválido"
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 403 {object} map[string]any "forbidden"
// @Router /admin/retry-failed [post]
func retryFailedHandler(admin *Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := middleware.RequireAdmin(r.Context()); err != nil {
			apperr.WriteError(w, err)
			return
		}

		// Body opcional
		var req retryFailedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			apperr.WriteError(w, apperr.InvalidFormat("body", "invalid json"))
			return
		}
		maxRetries := admin.DefaultMaxRetries
		if req.MaxRetries != nil {
			maxRetries = *req.MaxRetries
		}

		res, err := admin.Sweeper.RetryFailedSyncs(r.Context(), maxRetries)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// statsHandler godoc
// @Summary Estadísticas de ingesta y anclaje
// @Tags admin
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev"
// @Param X-Debug-Role header string false "Solo en modo dev (admin)"
// @Param Authorization header string false "Bearer token en producción"
// @Success 200 {object} statsResponse
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 403 {object} map[string]any "forbidden"
// @Router /admin/stats [get]
func statsHandler(admin *Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := middleware.RequireAdmin(r.Context()); err != nil {
			apperr.WriteError(w, err)
			return
		}

		byStatus, err := admin.Events.CountByStatus(r.Context())
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		events := make(map[collections.Status]int, len(collections.AllStatuses()))
		for _, s := range collections.AllStatuses() {
			events[s] = byStatus[s]
		}

		jobs, err := admin.Scheduler.Stats(r.Context())
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{Events: events, Jobs: jobs})
	}
}

// auditTrailHandler godoc
// @Summary Audit log de un evento
// @Tags admin
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev"
// @Param X-Debug-Role header string false "Solo en modo dev (admin)"
// @Param Authorization header string false "Bearer token en producción"
// @Param eventID path string true "ID del evento"
// @Success 200 {array} audit.Entry
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 403 {object} map[string]any "forbidden"
// @Router /admin/events/{eventID}/audit [get]
func auditTrailHandler(admin *Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := middleware.RequireAdmin(r.Context()); err != nil {
			apperr.WriteError(w, err)
			return
		}

		eventID := strings.TrimSpace(chi.URLParam(r, "eventID"))
		entries, err := admin.Audit.List(r.Context(), eventID)
		if err != nil {
			if errors.Is(err, audit.ErrInvalidInput) {
				apperr.WriteError(w, apperr.InvalidInput("eventId", "required"))
				return
			}
			apperr.WriteError(w, err)
			return
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
