package sms

import (
	"strconv"
	"strings"
)

// Field documenta un segmento del protocolo.
type Field struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

type FormatSpec struct {
	Format  string   `json:"format"`
	Example string   `json:"example"`
	Fields  []Field  `json:"fields"`
	Notes   []string `json:"notes"`
}

const Example = "COLLECT|f1|Turmeric|11.0168,76.9558|2024-02-10T10:00:00Z|12.5|"

func Spec() FormatSpec {
	return FormatSpec{
		Format:  "COLLECT|submitterId|category|lat,lon|timestamp|moisture|mediaHash",
		Example: Example,
		Fields: []Field{
			{1, SegmentCommand, true, "literal COLLECT"},
			{2, SegmentSubmitter, true, "collector id registered with the platform"},
			{3, SegmentCategory, true, "species name, e.g. Turmeric"},
			{4, SegmentCoordinates, true, "decimal degrees lat,lon; lat in [-90,90], lon in [-180,180]"},
			{5, SegmentTimestamp, true, "ISO-8601 (2024-02-10T10:00:00Z) or unix epoch seconds"},
			{6, SegmentMoisture, false, "moisture percentage in [0,100]; may be empty"},
			{7, SegmentMediaHash, false, "content hash of an uploaded photo; may be empty"},
		},
		Notes: []string{
			"segments are separated by '|' and trailing optional segments may be omitted",
			"coordinates must contain a decimal point on both values",
			"a malformed message is rejected with an error naming the offending segment",
		},
	}
}

// FormatGuide es la versión texto para integradores de gateways SMS.
func FormatGuide() string {
	s := Spec()

	var b strings.Builder
	b.WriteString("SMS collection format\n")
	b.WriteString("  " + s.Format + "\n\n")
	b.WriteString("Example\n")
	b.WriteString("  " + s.Example + "\n\n")
	b.WriteString("Fields\n")
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		b.WriteString("  " + strconv.Itoa(f.Position) + ". " + f.Name + " (" + req + "): " + f.Description + "\n")
	}
	b.WriteString("\nNotes\n")
	for _, n := range s.Notes {
		b.WriteString("  - " + n + "\n")
	}
	return b.String()
}
