package validation

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: ComputeQualityScore ∈ [0,100] para cualquier combinación de inputs,
// incluidos opcionales ausentes y valores absurdos.
func TestComputeQualityScore_AlwaysInRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	optional := gen.PtrOf

	properties.Property("score stays within [0,100]", prop.ForAll(
		func(loc, season bool, accuracy, moisture *float64) bool {
			s := ComputeQualityScore(loc, season, accuracy, moisture)
			return s >= 0 && s <= 100
		},
		gen.Bool(),
		gen.Bool(),
		optional(gen.Float64Range(-1e6, 1e6)),
		optional(gen.Float64Range(-1e6, 1e6)),
	))

	properties.Property("NaN inputs score like missing ones", prop.ForAll(
		func(loc, season bool) bool {
			nan := math.NaN()
			return ComputeQualityScore(loc, season, &nan, &nan) == ComputeQualityScore(loc, season, nil, nil)
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.Property("an invalid location costs exactly 30 points", prop.ForAll(
		func(season bool, accuracy, moisture *float64) bool {
			return ComputeQualityScore(true, season, accuracy, moisture)-ComputeQualityScore(false, season, accuracy, moisture) == 30
		},
		gen.Bool(),
		optional(gen.Float64Range(0, 200)),
		optional(gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t)
}
