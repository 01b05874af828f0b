package collections

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"herb-trace/internal/domain/sms"
	"herb-trace/internal/domain/validation"
	"herb-trace/internal/platform/apperr"
)

// smsNamespace deriva eventIds deterministas para reintentos del gateway SMS.
var smsNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:herb-trace:sms"))

// Submission es el cuerpo de POST /collection.
type Submission struct {
	EventID     string        `json:"eventId,omitempty"`
	SubmitterID string        `json:"submitterId"`
	Category    string        `json:"category"`
	Location    SubmissionGeo `json:"location"`
	CapturedAt  string        `json:"capturedAt"` // ISO-8601 o epoch en segundos
	MoisturePct *float64      `json:"moisturePct,omitempty"`
	Media       []MediaRef    `json:"media,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

// SubmissionGeo usa punteros para distinguir "0" de "ausente".
type SubmissionGeo struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	AccuracyM *float64 `json:"accuracyM,omitempty"`
}

// SMSMeta es lo que agrega el gateway al texto del mensaje.
type SMSMeta struct {
	From       string
	GatewayID  string
	MessageID  string
	ReceivedAt *time.Time
}

const maxNotesLen = 2000

type Normalizer struct {
	engine *validation.Engine
	now    func() time.Time
	newID  func() string
}

func NewNormalizer(engine *validation.Engine) *Normalizer {
	if engine == nil {
		engine = validation.Default()
	}
	return &Normalizer{
		engine: engine,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock se usa en tests.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	n.now = now
	return n
}

// FromAPI valida el cuerpo estructurado y devuelve un Event pending.
func (n *Normalizer) FromAPI(in Submission) (Event, error) {
	id, err := normalizeEventID(in.EventID)
	if err != nil {
		return Event{}, err
	}
	if id == "" {
		id = n.newID()
	}

	submitter := strings.TrimSpace(in.SubmitterID)
	if submitter == "" {
		return Event{}, apperr.InvalidInput("submitterId", "required")
	}
	if strings.TrimSpace(in.Category) == "" {
		return Event{}, apperr.InvalidInput("category", "required")
	}

	if in.Location.Lat == nil || in.Location.Lon == nil {
		return Event{}, apperr.InvalidInput("location", "lat and lon are required")
	}
	lat, lon := *in.Location.Lat, *in.Location.Lon
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return Event{}, apperr.InvalidFormat("location", "lat/lon must be numbers")
	}
	if err := sms.CheckCoordinates(lat, lon); err != nil {
		return Event{}, err
	}
	if a := in.Location.AccuracyM; a != nil && (math.IsNaN(*a) || *a < 0) {
		return Event{}, apperr.InvalidRange("accuracyM", "must be >= 0")
	}

	capturedAt, err := sms.ParseTimestamp(in.CapturedAt)
	if err != nil {
		return Event{}, apperr.InvalidFormat("capturedAt", "expected ISO-8601 or unix seconds")
	}

	if err := checkMoisture(in.MoisturePct); err != nil {
		return Event{}, err
	}

	media := make([]MediaRef, 0, len(in.Media))
	for i, m := range in.Media {
		h := strings.TrimSpace(m.Hash)
		if h == "" {
			return Event{}, apperr.InvalidInput(fmt.Sprintf("media[%d].hash", i), "required")
		}
		media = append(media, MediaRef{Hash: h, URL: strings.TrimSpace(m.URL)})
	}

	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxNotesLen {
		return Event{}, apperr.InvalidRange("notes", fmt.Sprintf("longer than %d bytes", maxNotesLen))
	}

	ev := Event{
		ID:          id,
		SubmitterID: submitter,
		Category:    CanonicalCategory(in.Category),
		Location: Location{
			Lat:       lat,
			Lon:       lon,
			AccuracyM: in.Location.AccuracyM,
		},
		CapturedAt:  capturedAt,
		MoisturePct: in.MoisturePct,
		Media:       media,
		Notes:       notes,
		Source:      Source{Channel: ChannelAPI},
	}
	return n.finish(ev), nil
}

// FromSMS parsea el texto COLLECT y devuelve un Event pending.
// Si el gateway manda gateway_id + message_id, el eventId es determinista
// y un reintento del carrier cae sobre el mismo evento.
func (n *Normalizer) FromSMS(text string, meta SMSMeta) (Event, error) {
	cmd, err := sms.Parse(text)
	if err != nil {
		return Event{}, err
	}

	id := n.newID()
	gw, msg := strings.TrimSpace(meta.GatewayID), strings.TrimSpace(meta.MessageID)
	if gw != "" && msg != "" {
		id = SMSEventID(gw, msg)
	}

	ev := Event{
		ID:          id,
		SubmitterID: cmd.SubmitterID,
		Category:    CanonicalCategory(cmd.Category),
		Location:    Location{Lat: cmd.Lat, Lon: cmd.Lon},
		CapturedAt:  cmd.CapturedAt,
		MoisturePct: cmd.MoisturePct,
		Source: Source{
			Channel:     ChannelSMS,
			SenderPhone: strings.TrimSpace(meta.From),
			GatewayID:   gw,
			MessageID:   msg,
			ReceivedAt:  meta.ReceivedAt,
		},
	}
	if cmd.MediaHash != "" {
		ev.Media = []MediaRef{{Hash: cmd.MediaHash}}
	}
	return n.finish(ev), nil
}

func (n *Normalizer) finish(ev Event) Event {
	res := n.engine.Evaluate(validation.Input{
		Category:    ev.Category,
		Lat:         ev.Location.Lat,
		Lon:         ev.Location.Lon,
		CapturedAt:  ev.CapturedAt,
		AccuracyM:   ev.Location.AccuracyM,
		MoisturePct: ev.MoisturePct,
	})
	ev.IsValidLocation = res.IsValidLocation
	ev.IsValidSeason = res.IsValidSeason
	ev.QualityScore = res.QualityScore

	now := n.now().UTC()
	ev.Status = StatusPending
	ev.CreatedAt = now
	ev.UpdatedAt = now
	return ev
}

// SMSEventID: uuid v5 sobre "gatewayId:messageId".
func SMSEventID(gatewayID, messageID string) string {
	return uuid.NewSHA1(smsNamespace, []byte(gatewayID+":"+messageID)).String()
}

// CanonicalCategory: "  TURMERIC " -> "Turmeric", "holy basil" -> "Holy Basil".
// cases.Caser no es seguro entre goroutines, se crea uno por llamada.
func CanonicalCategory(raw string) string {
	raw = strings.Join(strings.Fields(raw), " ")
	return cases.Title(language.Und).String(raw)
}

func normalizeEventID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.InvalidFormat("eventId", "must be a UUID")
	}
	return u.String(), nil
}

func checkMoisture(m *float64) error {
	if m == nil {
		return nil
	}
	if math.IsNaN(*m) {
		return apperr.InvalidFormat("moisturePct", "must be a number")
	}
	if *m < 0 || *m > 100 {
		return apperr.InvalidRange("moisturePct", fmt.Sprintf("%v not in [0,100]", *m))
	}
	return nil
}
