package sms

import (
	"errors"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herb-trace/internal/platform/apperr"
)

func TestParse_ScenarioA(t *testing.T) {
	cmd, err := Parse("COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|12.5|")
	require.NoError(t, err)

	assert.Equal(t, "f1", cmd.SubmitterID)
	assert.Equal(t, "Turmeric", cmd.Category)
	assert.Equal(t, 11.0168, cmd.Lat)
	assert.Equal(t, 76.9558, cmd.Lon)
	assert.Equal(t, time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC), cmd.CapturedAt)
	require.NotNil(t, cmd.MoisturePct)
	assert.Equal(t, 12.5, *cmd.MoisturePct)
	assert.Empty(t, cmd.MediaHash)
}

func TestParse_EpochAndMedia(t *testing.T) {
	cmd, err := Parse(" collect | f2 | Ashwagandha | 26.9124,75.7873 | 1707559200 | | sha256:abcdef0123456789 ")
	require.NoError(t, err)

	assert.Equal(t, time.Unix(1707559200, 0).UTC(), cmd.CapturedAt)
	assert.Nil(t, cmd.MoisturePct)
	assert.Equal(t, "sha256:abcdef0123456789", cmd.MediaHash)
}

func TestParse_TrailingOptionalSegmentsMayBeOmitted(t *testing.T) {
	cmd, err := Parse("COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10")
	require.NoError(t, err)
	assert.Nil(t, cmd.MoisturePct)
	assert.Equal(t, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), cmd.CapturedAt)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		code    apperr.Code
		segment string
	}{
		{"empty", "   ", apperr.CodeInvalidFormat, SegmentCommand},
		{"too few segments", "COLLECT|f1|Turmeric", apperr.CodeInvalidFormat, SegmentCommand},
		{"too many segments", "COLLECT|f1|T|1.0,2.0|2024-02-10|1|abcdefgh|extra", apperr.CodeInvalidFormat, SegmentCommand},
		{"wrong keyword", "HARVEST|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z", apperr.CodeInvalidFormat, SegmentCommand},
		{"missing submitter", "COLLECT||Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z", apperr.CodeInvalidFormat, SegmentSubmitter},
		{"missing category", "COLLECT|f1||11.0168,76.9558|2024-02-10T10:00:00Z", apperr.CodeInvalidFormat, SegmentCategory},
		{"integer coords", "COLLECT|f1|Turmeric|11,76|2024-02-10T10:00:00Z", apperr.CodeInvalidFormat, SegmentCoordinates},
		{"spaces in coords", "COLLECT|f1|Turmeric|11.0, 76.9|2024-02-10T10:00:00Z", apperr.CodeInvalidFormat, SegmentCoordinates},
		{"lat range", "COLLECT|f1|Turmeric|91.0,76.9558|2024-02-10T10:00:00Z", apperr.CodeInvalidRange, SegmentLatitude},
		{"lon range", "COLLECT|f1|Turmeric|11.0,-180.5|2024-02-10T10:00:00Z", apperr.CodeInvalidRange, SegmentLongitude},
		{"bad timestamp", "COLLECT|f1|Turmeric|11.0168,76.9558|yesterday", apperr.CodeInvalidFormat, SegmentTimestamp},
		{"missing timestamp", "COLLECT|f1|Turmeric|11.0168,76.9558||12", apperr.CodeInvalidFormat, SegmentTimestamp},
		{"moisture nan", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|wet", apperr.CodeInvalidFormat, SegmentMoisture},
		{"moisture range", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|101", apperr.CodeInvalidRange, SegmentMoisture},
		{"moisture negative", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|-1", apperr.CodeInvalidRange, SegmentMoisture},
		{"moisture NaN literal", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|NaN|", apperr.CodeInvalidRange, SegmentMoisture},
		{"moisture infinite", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|+Inf", apperr.CodeInvalidRange, SegmentMoisture},
		{"media hash", "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|12|x y", apperr.CodeInvalidFormat, SegmentMediaHash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.text)
			require.Error(t, err)

			var ve *apperr.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %T", err)
			assert.Equal(t, tc.code, ve.Code)
			assert.Equal(t, tc.segment, ve.Field)
		})
	}
}

func TestParseTimestamp_Layouts(t *testing.T) {
	want := time.Date(2024, 2, 10, 10, 0, 0, 0, time.UTC)
	for _, raw := range []string{
		"2024-02-10T10:00:00Z",
		"2024-02-10T15:30:00+05:30",
		"2024-02-10T10:00:00",
		"1707559200",
	} {
		got, err := ParseTimestamp(raw)
		require.NoError(t, err, raw)
		assert.True(t, want.Equal(got), "%s => %s", raw, got)
	}
}

func TestFormatGuide_Golden(t *testing.T) {
	g := goldie.New(t)
	g.Assert(t, "format_guide", []byte(FormatGuide()))
}

func TestSpec_ExampleParses(t *testing.T) {
	_, err := Parse(Spec().Example)
	assert.NoError(t, err)
}
