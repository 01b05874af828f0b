// Package validation contiene las reglas de dominio (geocerca, temporada)
// y el cálculo del quality score. Todo es puro: sin I/O ni errores.
package validation

import "time"

const (
	pointsLocation = 30
	pointsSeason   = 30
	pointsAccuracy = 20
	pointsMoisture = 20

	// Sin dato => puntaje neutro.
	defaultAccuracyPoints = 10
	defaultMoisturePoints = 10
)

type Engine struct {
	rules Rules
}

func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

// Default usa DefaultRules.
func Default() *Engine {
	return NewEngine(DefaultRules())
}

// ValidateLocation es fail-open: sin regla, o regla sin regiones, => true.
func (e *Engine) ValidateLocation(lat, lon float64, category string) bool {
	rule, ok := e.rules.lookup(category)
	if !ok || len(rule.Regions) == 0 {
		return true
	}
	for _, r := range rule.Regions {
		if r.Contains(lat, lon) {
			return true
		}
	}
	return false
}

// ValidateSeason es fail-open igual que ValidateLocation.
// El mes se toma en UTC.
func (e *Engine) ValidateSeason(category string, ts time.Time) bool {
	rule, ok := e.rules.lookup(category)
	if !ok || len(rule.Months) == 0 {
		return true
	}
	month := ts.UTC().Month()
	for _, m := range rule.Months {
		if m == month {
			return true
		}
	}
	return false
}

func (e *Engine) moistureBand(category string) MoistureBand {
	if rule, ok := e.rules.lookup(category); ok && rule.Moisture != nil {
		return *rule.Moisture
	}
	return DefaultMoistureBand
}

type Input struct {
	Category    string
	Lat         float64
	Lon         float64
	CapturedAt  time.Time
	AccuracyM   *float64
	MoisturePct *float64
}

type Result struct {
	IsValidLocation bool
	IsValidSeason   bool
	QualityScore    int
}

func (e *Engine) Evaluate(in Input) Result {
	loc := e.ValidateLocation(in.Lat, in.Lon, in.Category)
	season := e.ValidateSeason(in.Category, in.CapturedAt)
	return Result{
		IsValidLocation: loc,
		IsValidSeason:   season,
		QualityScore:    computeScore(loc, season, in.AccuracyM, in.MoisturePct, e.moistureBand(in.Category)),
	}
}

// ComputeQualityScore usa la banda de humedad por defecto.
func ComputeQualityScore(isValidLocation, isValidSeason bool, accuracyM, moisturePct *float64) int {
	return computeScore(isValidLocation, isValidSeason, accuracyM, moisturePct, DefaultMoistureBand)
}

func computeScore(loc, season bool, accuracyM, moisturePct *float64, band MoistureBand) int {
	score := 0
	if loc {
		score += pointsLocation
	}
	if season {
		score += pointsSeason
	}
	score += accuracyPoints(accuracyM)
	score += moisturePoints(moisturePct, band)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func accuracyPoints(accuracyM *float64) int {
	if accuracyM == nil || *accuracyM != *accuracyM || *accuracyM < 0 {
		return defaultAccuracyPoints
	}
	switch a := *accuracyM; {
	case a <= 5:
		return pointsAccuracy
	case a <= 10:
		return 15
	case a <= 20:
		return 10
	default:
		return 5
	}
}

func moisturePoints(moisturePct *float64, band MoistureBand) int {
	// NaN cuenta como desconocido
	if moisturePct == nil || *moisturePct != *moisturePct {
		return defaultMoisturePoints
	}
	m := *moisturePct
	switch {
	case m >= band.Min && m <= band.Max:
		return pointsMoisture
	case m >= band.Min-band.Tolerance && m <= band.Max+band.Tolerance:
		return 10
	default:
		return 0
	}
}
