// Package sms implementa el protocolo de texto compacto para recolecciones por SMS:
//
//	COLLECT|submitterId|category|lat,lon|timestamp|moisture|mediaHash
package sms

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"herb-trace/internal/platform/apperr"
)

const (
	Keyword   = "COLLECT"
	Separator = "|"

	minSegments = 5
	maxSegments = 7
)

// Nombres de segmento (aparecen en los errores InvalidFormat/InvalidRange).
const (
	SegmentCommand     = "command"
	SegmentSubmitter   = "submitterId"
	SegmentCategory    = "category"
	SegmentCoordinates = "coordinates"
	SegmentTimestamp   = "timestamp"
	SegmentMoisture    = "moisture"
	SegmentMediaHash   = "mediaHash"
	SegmentLatitude    = "latitude"
	SegmentLongitude   = "longitude"
)

var (
	coordsRe    = regexp.MustCompile(`^-?\d+\.\d+,-?\d+\.\d+$`)
	epochRe     = regexp.MustCompile(`^\d{1,12}$`)
	mediaHashRe = regexp.MustCompile(`^[A-Za-z0-9:_\-]{8,128}$`)
)

// Formatos ISO-8601 aceptados (además de epoch en segundos).
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Command es el resultado normalizado de un SMS COLLECT.
type Command struct {
	SubmitterID string
	Category    string
	Lat         float64
	Lon         float64
	CapturedAt  time.Time
	MoisturePct *float64
	MediaHash   string
}

// Parse tokeniza y valida un SMS. Errores: *apperr.ValidationError con
// Code InvalidFormat (segmento mal formado) o InvalidRange (fuera de rango).
func Parse(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}, apperr.InvalidFormat(SegmentCommand, "empty message")
	}

	parts := strings.Split(text, Separator)
	if len(parts) < minSegments || len(parts) > maxSegments {
		return Command{}, apperr.InvalidFormat(SegmentCommand,
			fmt.Sprintf("expected %d to %d '|' separated segments, got %d", minSegments, maxSegments, len(parts)))
	}
	for len(parts) < maxSegments {
		parts = append(parts, "")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if !strings.EqualFold(parts[0], Keyword) {
		return Command{}, apperr.InvalidFormat(SegmentCommand, fmt.Sprintf("unknown command %q, expected %s", parts[0], Keyword))
	}

	cmd := Command{
		SubmitterID: parts[1],
		Category:    parts[2],
	}
	if cmd.SubmitterID == "" {
		return Command{}, apperr.InvalidFormat(SegmentSubmitter, "required")
	}
	if cmd.Category == "" {
		return Command{}, apperr.InvalidFormat(SegmentCategory, "required")
	}

	lat, lon, err := parseCoordinates(parts[3])
	if err != nil {
		return Command{}, err
	}
	cmd.Lat, cmd.Lon = lat, lon

	ts, err := ParseTimestamp(parts[4])
	if err != nil {
		return Command{}, err
	}
	cmd.CapturedAt = ts

	if parts[5] != "" {
		m, err := strconv.ParseFloat(parts[5], 64)
		if err != nil {
			return Command{}, apperr.InvalidFormat(SegmentMoisture, fmt.Sprintf("%q is not a number", parts[5]))
		}
		// ParseFloat acepta "NaN" e "Inf"; ninguno cae en [0,100].
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 || m > 100 {
			return Command{}, apperr.InvalidRange(SegmentMoisture, fmt.Sprintf("%v not in [0,100]", m))
		}
		cmd.MoisturePct = &m
	}

	if parts[6] != "" {
		if !mediaHashRe.MatchString(parts[6]) {
			return Command{}, apperr.InvalidFormat(SegmentMediaHash, "expected 8-128 characters of [A-Za-z0-9:_-]")
		}
		cmd.MediaHash = parts[6]
	}

	return cmd, nil
}

func parseCoordinates(raw string) (float64, float64, error) {
	if !coordsRe.MatchString(raw) {
		return 0, 0, apperr.InvalidFormat(SegmentCoordinates, fmt.Sprintf("%q does not match lat,lon (e.g. 11.0168,76.9558)", raw))
	}
	latRaw, lonRaw, _ := strings.Cut(raw, ",")

	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return 0, 0, apperr.InvalidFormat(SegmentLatitude, err.Error())
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return 0, 0, apperr.InvalidFormat(SegmentLongitude, err.Error())
	}

	if err := CheckCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// CheckCoordinates valida rangos geográficos. Compartido con la ingesta por API.
func CheckCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return apperr.InvalidRange(SegmentLatitude, fmt.Sprintf("%v not in [-90,90]", lat))
	}
	if lon < -180 || lon > 180 {
		return apperr.InvalidRange(SegmentLongitude, fmt.Sprintf("%v not in [-180,180]", lon))
	}
	return nil
}

// ParseTimestamp acepta ISO-8601 o segundos Unix. Devuelve UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.InvalidFormat(SegmentTimestamp, "required")
	}

	if epochRe.MatchString(raw) {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, apperr.InvalidFormat(SegmentTimestamp, err.Error())
		}
		return time.Unix(secs, 0).UTC(), nil
	}

	for _, layout := range isoLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, apperr.InvalidFormat(SegmentTimestamp, fmt.Sprintf("%q is neither ISO-8601 nor unix seconds", raw))
}
