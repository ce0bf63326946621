package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize prepares header text or a key for comparison.
// The pipeline:
//  1. Unicode case fold ("Straße" and "STRASSE" compare equal).
//  2. Strip diacritics (NFD decompose, drop combining marks).
//  3. Split CamelCase so "RobotNo" becomes "robot no".
//  4. Replace every run of punctuation or whitespace with one space.
//  5. Trim.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.Join(splitCamel(s), " ")
	// cases.Caser is stateful, so each call gets its own.
	s = cases.Fold().String(s)
	s = stripDiacritics(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}

	return b.String()
}

// Compact returns the normalized form with all spaces removed.
// "Robot-No." and "robot no" both compact to "robotno".
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Tokens splits s into its normalized tokens.
func Tokens(s string) []string {
	n := Normalize(s)
	if n == "" {
		return nil
	}
	return strings.Fields(n)
}

// NormalizeKey canonicalizes an entity key: trimmed, internal whitespace
// collapsed, upper-cased. Punctuation is kept because keys such as
// "ST-100" and "ST100" are distinct identifiers in plant exports.
func NormalizeKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// stripDiacritics removes combining marks after NFD decomposition.
func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitCamel splits on lower→upper transitions and at the end of acronyms.
//   - "RobotNo"   -> ["Robot", "No"]
//   - "SIMStatus" -> ["SIM", "Status"]
//   - "ST100"     -> ["ST100"]
func splitCamel(s string) []string {
	runes := []rune(s)
	var parts []string
	start := 0

	for i := 1; i < len(runes); i++ {
		r, prev := runes[i], runes[i-1]
		lowerToUpper := unicode.IsUpper(r) && unicode.IsLower(prev)
		acronymEnd := unicode.IsUpper(r) && unicode.IsUpper(prev) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if lowerToUpper || acronymEnd {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}

	return append(parts, string(runes[start:]))
}
