package collector

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"herb-trace/internal/domain/collections"
	"herb-trace/internal/platform/httpclient"
)

// PushResult es lo que devuelve el servidor al aceptar un evento.
type PushResult struct {
	EventID         string             `json:"eventId"`
	Status          collections.Status `json:"status"`
	LedgerTxID      string             `json:"ledgerTxId,omitempty"`
	LedgerBlockHash string             `json:"ledgerBlockHash,omitempty"`
	Replayed        bool               `json:"replayed,omitempty"`
}

// Pusher entrega eventos locales a la API de ingesta.
type Pusher interface {
	Push(ctx context.Context, ev collections.Event) (PushResult, error)
	// Fetch trae la copia del servidor (para refrescar anclajes).
	Fetch(ctx context.Context, eventID string) (collections.Event, error)
}

type HTTPPusherConfig struct {
	BaseURL string
	// Token Bearer; si está vacío y DebugUserID no, se usa X-Debug-User-ID (modo dev).
	Token       string
	DebugUserID string
	Timeout     time.Duration
}

type HTTPPusher struct {
	client *httpclient.Client
}

func NewHTTPPusher(cfg HTTPPusherConfig) (*HTTPPusher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("collector: api base url required")
	}
	c, err := httpclient.NewWithBaseURL(cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.TrimSpace(cfg.Token) != "":
		c.DefaultHeaders = map[string]string{"Authorization": "Bearer " + strings.TrimSpace(cfg.Token)}
	case strings.TrimSpace(cfg.DebugUserID) != "":
		c.DefaultHeaders = map[string]string{"X-Debug-User-ID": strings.TrimSpace(cfg.DebugUserID)}
	}
	return &HTTPPusher{client: c}, nil
}

func (p *HTTPPusher) Push(ctx context.Context, ev collections.Event) (PushResult, error) {
	var out PushResult
	if err := p.client.DoJSON(ctx, http.MethodPost, "/collection", nil, ToSubmission(ev), &out); err != nil {
		return PushResult{}, err
	}
	return out, nil
}

func (p *HTTPPusher) Fetch(ctx context.Context, eventID string) (collections.Event, error) {
	var out collections.Event
	if err := p.client.DoJSON(ctx, http.MethodGet, "/collection/"+url.PathEscape(eventID), nil, nil, &out); err != nil {
		return collections.Event{}, err
	}
	return out, nil
}

// ToSubmission arma el cuerpo de POST /collection a partir de la copia local.
// El eventId viaja siempre: es la clave de idempotencia en el servidor.
func ToSubmission(ev collections.Event) collections.Submission {
	lat, lon := ev.Location.Lat, ev.Location.Lon
	return collections.Submission{
		EventID:     ev.ID,
		SubmitterID: ev.SubmitterID,
		Category:    ev.Category,
		Location: collections.SubmissionGeo{
			Lat:       &lat,
			Lon:       &lon,
			AccuracyM: ev.Location.AccuracyM,
		},
		CapturedAt:  ev.CapturedAt.UTC().Format(time.RFC3339),
		MoisturePct: ev.MoisturePct,
		Media:       ev.Media,
		Notes:       ev.Notes,
	}
}

// permanent: el servidor rechazó el contenido; reintentar no cambia nada.
func permanent(err error) bool {
	var he *httpclient.HTTPError
	if !errors.As(err, &he) {
		return false
	}
	return !he.Temporary() && he.StatusCode != http.StatusUnauthorized
}
