package collections

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"herb-trace/internal/domain/sms"
	"herb-trace/internal/middleware"
	"herb-trace/internal/platform/apperr"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// RegisterRoutes: ingesta autenticada por API.
func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/collection", func(cr chi.Router) {
		cr.Post("/", submitHandler(svc))
		cr.Get("/{eventID}", getEventHandler(svc))
	})
}

// RegisterSMSRoutes: webhook del gateway SMS + documentación del formato.
func RegisterSMSRoutes(r chi.Router, svc *Service) {
	r.Route("/sms", func(sr chi.Router) {
		sr.Post("/webhook", smsWebhookHandler(svc))
		sr.Get("/format", smsFormatHandler())
	})
}

// ingestResponse es la respuesta común de los dos canales de ingesta.
type ingestResponse struct {
	Success         bool   `json:"success"`
	EventID         string `json:"eventId"`
	Status          Status `json:"status"`
	IsValidLocation bool   `json:"isValidLocation"`
	IsValidSeason   bool   `json:"isValidSeason"`
	QualityScore    int    `json:"qualityScore"`
	LedgerTxID      string `json:"ledgerTxId,omitempty"`
	LedgerBlockHash string `json:"ledgerBlockHash,omitempty"`
	Replayed        bool   `json:"replayed,omitempty"`
}

// smsWebhookRequest es el cuerpo que envía el gateway SMS.
type smsWebhookRequest struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// smsFormatResponse documenta el protocolo para integradores.
type smsFormatResponse struct {
	sms.FormatSpec
	Guide string `json:"guide"`
}

// submitHandler godoc
// @Summary Registrar una recolección
// @Description Ingesta estructurada. Si eventId ya existe devuelve el resultado original (200, replayed=true) sin volver a anclar. Autenticación: `X-Debug-User-ID` (dev) o `Authorization: Bearer <token>` (prod).
// @Tags collection
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body Submission true "Datos de la recolección"
// @Success 201 {object} ingestResponse
// @Success 200 {object} ingestResponse "replay de un eventId existente"
// @Failure 400 {object} map[string]any "ValidationError"
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 403 {object} map[string]any "submitterId de otro usuario"
// @Failure 409 {object} map[string]any "eventId de otro submitter"
// @Failure 429 {object} map[string]any "rate limit"
// @Router /collection [post]
func submitHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			apperr.WriteError(w, err)
			return
		}

		var req Submission
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			apperr.WriteError(w, apperr.InvalidFormat("body", "invalid json"))
			return
		}

		// Un colector solo puede registrar a su nombre; admin puede cargar por otros.
		req.SubmitterID = strings.TrimSpace(req.SubmitterID)
		if req.SubmitterID == "" {
			req.SubmitterID = p.UserID
		}
		if req.SubmitterID != p.UserID && !p.IsAdmin() {
			apperr.WriteError(w, apperr.ErrForbidden)
			return
		}

		out, err := svc.Submit(r.Context(), p.UserID, req)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		writeJSON(w, statusFor(out), toIngestResponse(out))
	}
}

// getEventHandler godoc
// @Summary Obtener una recolección
// @Description Devuelve el evento canónico con su estado de anclaje. Solo el submitter o un admin.
// @Tags collection
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param eventID path string true "ID del evento"
// @Success 200 {object} Event
// @Failure 401 {object} map[string]any "unauthorized"
// @Failure 404 {object} map[string]any "event not found"
// @Router /collection/{eventID} [get]
func getEventHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := middleware.RequirePrincipal(r.Context())
		if err != nil {
			apperr.WriteError(w, err)
			return
		}

		ev, err := svc.GetByID(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		// No revelamos eventos ajenos
		if ev.SubmitterID != p.UserID && !p.IsAdmin() {
			apperr.WriteError(w, ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	}
}

// smsWebhookHandler godoc
// @Summary Webhook de SMS entrante
// @Description Recibe un SMS `COLLECT|...` del gateway. Con gateway_id + message_id los reintentos del carrier son idempotentes.
// @Tags sms
// @Accept json
// @Produce json
// @Param payload body smsWebhookRequest true "Mensaje entrante"
// @Success 201 {object} ingestResponse
// @Success 200 {object} ingestResponse "reintento del mismo mensaje"
// @Failure 400 {object} map[string]any "InvalidFormat / InvalidRange con el segmento"
// @Failure 429 {object} map[string]any "rate limit"
// @Router /sms/webhook [post]
func smsWebhookHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req smsWebhookRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			apperr.WriteError(w, apperr.InvalidFormat("body", "invalid json"))
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			apperr.WriteError(w, apperr.InvalidInput("message", "required"))
			return
		}
		if strings.TrimSpace(req.From) == "" {
			apperr.WriteError(w, apperr.InvalidInput("from", "required"))
			return
		}

		meta := SMSMeta{
			From:      req.From,
			GatewayID: req.GatewayID,
			MessageID: req.MessageID,
		}
		if strings.TrimSpace(req.Timestamp) != "" {
			ts, err := sms.ParseTimestamp(req.Timestamp)
			if err != nil {
				apperr.WriteError(w, err)
				return
			}
			meta.ReceivedAt = &ts
		} else {
			now := time.Now().UTC()
			meta.ReceivedAt = &now
		}

		out, err := svc.SubmitSMS(r.Context(), req.Message, meta)
		if err != nil {
			apperr.WriteError(w, err)
			return
		}
		writeJSON(w, statusFor(out), toIngestResponse(out))
	}
}

// smsFormatHandler godoc
// @Summary Formato del protocolo SMS
// @Tags sms
// @Produce json
// @Success 200 {object} smsFormatResponse
// @Router /sms/format [get]
func smsFormatHandler() http.HandlerFunc {
	body := smsFormatResponse{FormatSpec: sms.Spec(), Guide: sms.FormatGuide()}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

func statusFor(out Outcome) int {
	if out.Replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func toIngestResponse(out Outcome) ingestResponse {
	e := out.Event
	return ingestResponse{
		Success:         true,
		EventID:         e.ID,
		Status:          e.Status,
		IsValidLocation: e.IsValidLocation,
		IsValidSeason:   e.IsValidSeason,
		QualityScore:    e.QualityScore,
		LedgerTxID:      e.LedgerTxID,
		LedgerBlockHash: e.LedgerBlockHash,
		Replayed:        out.Replayed,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
