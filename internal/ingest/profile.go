package ingest

import (
	"time"

	"github.com/JonMunkholm/simsync/internal/match"
	"github.com/JonMunkholm/simsync/internal/schema"
)

// MaxProfileSamples is how many non-empty values of a column are inspected.
const MaxProfileSamples = 50

// minKindSamples is the number of samples needed before value shapes are
// allowed to influence matching.
const minKindSamples = 3

// profileRef anchors two-digit year parsing so profiles do not depend on
// the wall clock.
var profileRef = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ColumnProfile is the matchable view of one column.
type ColumnProfile struct {
	Header     string   `json:"header"`
	Normalized string   `json:"normalized"`
	Compact    string   `json:"-"`
	Tokens     []string `json:"-"`

	Samples  int `json:"samples"`
	Numbers  int `json:"numbers"`
	Dates    int `json:"dates"`
	Bools    int `json:"bools"`
	Distinct int `json:"distinct"`
}

// ProfileColumn inspects a header and its sample values. Blank samples are
// ignored; at most MaxProfileSamples are read.
func ProfileColumn(header string, samples []string) ColumnProfile {
	p := ColumnProfile{
		Header:     header,
		Normalized: match.Normalize(header),
		Compact:    match.Compact(header),
		Tokens:     match.Tokens(header),
	}

	distinct := make(map[string]struct{})
	for _, raw := range samples {
		v := CleanCell(raw)
		if v == "" {
			continue
		}
		if p.Samples == MaxProfileSamples {
			break
		}
		p.Samples++
		distinct[v] = struct{}{}

		if _, ok := ParseNumber(v); ok {
			p.Numbers++
		}
		if _, ok := ParseDate(v, profileRef); ok {
			p.Dates++
		}
		if _, ok := ParseBool(v); ok {
			p.Bools++
		}
	}
	p.Distinct = len(distinct)

	return p
}

// Fit returns the share of samples whose shape fits kind. Text and code
// fields accept anything, and so does a column without samples.
func (p ColumnProfile) Fit(kind schema.FieldKind) float64 {
	if p.Samples == 0 {
		return 1
	}
	switch kind {
	case schema.KindNumber:
		return float64(p.Numbers) / float64(p.Samples)
	case schema.KindDate:
		return float64(p.Dates) / float64(p.Samples)
	case schema.KindBool:
		return float64(p.Bools) / float64(p.Samples)
	default:
		return 1
	}
}

// Incompatible reports whether there is enough evidence that the column's
// values do not fit kind.
func (p ColumnProfile) Incompatible(kind schema.FieldKind) bool {
	return p.Samples >= minKindSamples && p.Fit(kind) < 0.5
}

// ProfileSheet profiles every column of a sheet.
func ProfileSheet(s Sheet) []ColumnProfile {
	out := make([]ColumnProfile, len(s.Headers))
	for i, h := range s.Headers {
		out[i] = ProfileColumn(h, s.Column(i, MaxProfileSamples))
	}
	return out
}
