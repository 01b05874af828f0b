package anchoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"herb-trace/internal/domain/collections"
)

// LedgerRecord es lo que se escribe en el ledger para un evento.
// Solo contenido inmutable: nada de status/retries.
type LedgerRecord struct {
	EventID         string   `json:"eventId"`
	SubmitterID     string   `json:"submitterId"`
	Category        string   `json:"category"`
	Lat             float64  `json:"lat"`
	Lon             float64  `json:"lon"`
	AccuracyM       *float64 `json:"accuracyM,omitempty"`
	CapturedAt      string   `json:"capturedAt"`
	MoisturePct     *float64 `json:"moisturePct,omitempty"`
	MediaHashes     []string `json:"mediaHashes,omitempty"`
	Channel         string   `json:"channel"`
	IsValidLocation bool     `json:"isValidLocation"`
	IsValidSeason   bool     `json:"isValidSeason"`
	QualityScore    int      `json:"qualityScore"`
}

func NewLedgerRecord(ev collections.Event) LedgerRecord {
	rec := LedgerRecord{
		EventID:         ev.ID,
		SubmitterID:     ev.SubmitterID,
		Category:        ev.Category,
		Lat:             ev.Location.Lat,
		Lon:             ev.Location.Lon,
		AccuracyM:       ev.Location.AccuracyM,
		CapturedAt:      ev.CapturedAt.UTC().Format(time.RFC3339),
		MoisturePct:     ev.MoisturePct,
		Channel:         string(ev.Source.Channel),
		IsValidLocation: ev.IsValidLocation,
		IsValidSeason:   ev.IsValidSeason,
		QualityScore:    ev.QualityScore,
	}
	for _, m := range ev.Media {
		rec.MediaHashes = append(rec.MediaHashes, m.Hash)
	}
	return rec
}

// BuildArgs serializa el evento a los args del chaincode:
// [eventId, JSON canónico (RFC 8785), sha256 hex del JSON].
// El mismo evento produce siempre los mismos bytes.
func BuildArgs(ev collections.Event) ([]string, error) {
	raw, err := json.Marshal(NewLedgerRecord(ev))
	if err != nil {
		return nil, fmt.Errorf("marshal ledger record: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize ledger record: %w", err)
	}
	sum := sha256.Sum256(canon)
	return []string{ev.ID, string(canon), hex.EncodeToString(sum[:])}, nil
}
