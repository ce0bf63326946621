package ingest

import (
	"math"
	"testing"
	"time"
)

var refTime = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      float64
	}{
		// Valid: basic
		{name: "positive integer", input: "123", wantValid: true, want: 123},
		{name: "negative integer", input: "-456", wantValid: true, want: -456},
		{name: "decimal number", input: "123.45", wantValid: true, want: 123.45},
		{name: "leading decimal point", input: ".99", wantValid: true, want: 0.99},
		{name: "explicit positive sign", input: "+123", wantValid: true, want: 123},

		// Valid: formatting
		{name: "dollar sign", input: "$1,234.56", wantValid: true, want: 1234.56},
		{name: "euro sign", input: "€1234.56", wantValid: true, want: 1234.56},
		{name: "thousands separator", input: "1,234,567.89", wantValid: true, want: 1234567.89},
		{name: "accounting negative", input: "($1,234.56)", wantValid: true, want: -1234.56},
		{name: "percent", input: "85%", wantValid: true, want: 85},
		{name: "surrounded by whitespace", input: "  123.45  ", wantValid: true, want: 123.45},
		{name: "scientific notation", input: "1.5e3", wantValid: true, want: 1500},

		// Invalid
		{name: "empty string", input: "", wantValid: false},
		{name: "only whitespace", input: "   ", wantValid: false},
		{name: "alphabetic string", input: "abc", wantValid: false},
		{name: "mixed alphanumeric", input: "12abc34", wantValid: false},
		{name: "only currency symbol", input: "$", wantValid: false},
		{name: "multiple decimal points", input: "12.34.56", wantValid: false},
		{name: "double negative", input: "--123", wantValid: false},
		{name: "NaN", input: "NaN", wantValid: false},
		{name: "station key", input: "ST100", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantValid {
				t.Fatalf("ParseNumber(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if ok && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantYear  int
		wantMonth time.Month
		wantDay   int
	}{
		{name: "ISO format", input: "2024-01-15", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "ISO leap day", input: "2024-02-29", wantValid: true, wantYear: 2024, wantMonth: time.February, wantDay: 29},
		{name: "US format", input: "01/15/2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "EU dotted format", input: "15.01.2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "text month", input: "Jan 15, 2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "day month year", input: "15-Jan-2024", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "compact", input: "20240115", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "two digit year", input: "1/15/24", wantValid: true, wantYear: 2024, wantMonth: time.January, wantDay: 15},
		{name: "two digit year past pivot", input: "1/15/99", wantValid: true, wantYear: 1999, wantMonth: time.January, wantDay: 15},

		{name: "empty string", input: "", wantValid: false},
		{name: "not a date", input: "not-a-date", wantValid: false},
		{name: "month greater than 12", input: "2024-13-01", wantValid: false},
		{name: "invalid Feb 29", input: "2023-02-29", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input, refTime)
			if ok != tt.wantValid {
				t.Fatalf("ParseDate(%q) valid = %v, want %v", tt.input, ok, tt.wantValid)
			}
			if !ok {
				return
			}
			if got.Year() != tt.wantYear || got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseDate(%q) = %s, want %d-%02d-%02d", tt.input, got.Format("2006-01-02"), tt.wantYear, tt.wantMonth, tt.wantDay)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input     string
		want      bool
		wantValid bool
	}{
		{"true", true, true},
		{"YES", true, true},
		{"ja", true, true},
		{"x", true, true},
		{"1", true, true},
		{"false", false, true},
		{"Nein", false, true},
		{"0", false, true},
		{"", false, false},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		got, ok := ParseBool(tt.input)
		if ok != tt.wantValid || got != tt.want {
			t.Errorf("ParseBool(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.wantValid)
		}
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  ST100  ", "ST100"},
		{`="00123"`, "00123"},
		{"=42", "42"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestProfileColumn(t *testing.T) {
	p := ProfileColumn("Completion %", []string{"80", "", "95%", "n/a", "100"})
	if p.Normalized != "completion" {
		t.Errorf("Normalized = %q", p.Normalized)
	}
	if p.Samples != 4 || p.Numbers != 3 {
		t.Errorf("Samples = %d, Numbers = %d; want 4, 3", p.Samples, p.Numbers)
	}
	if p.Incompatible("number") {
		t.Error("mostly numeric column should fit number")
	}

	text := ProfileColumn("Qty", []string{"many", "few", "some"})
	if !text.Incompatible("number") {
		t.Error("text column should not fit number")
	}
	if text.Incompatible("text") {
		t.Error("text fields accept anything")
	}

	sparse := ProfileColumn("Qty", []string{"many"})
	if sparse.Incompatible("number") {
		t.Error("too few samples to judge")
	}
}
