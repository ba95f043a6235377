package capture

import (
	"html"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
)

// PriceTolerance is the largest absolute difference, in major units, that
// still counts as the same price. The bound itself does not match.
const PriceTolerance = 0.02

// Outcome is the result of comparing a raw extraction to the final value.
type Outcome int

const (
	// NoData means both sides are blank: nothing to learn.
	NoData Outcome = iota
	Match
	Mismatch
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	default:
		return "no_data"
	}
}

var strict = bluemonday.StrictPolicy()

// Compare applies the equivalence rule of field f to the raw and final
// payloads. Exactly one blank side is a mismatch.
func Compare(f Field, raw, final map[string]any) Outcome {
	switch f {
	case FieldPrice:
		r, rok := PriceValue(raw)
		v, vok := PriceValue(final)
		switch {
		case !rok && !vok:
			return NoData
		case rok != vok:
			return Mismatch
		}
		if PricesEqual(r, v) {
			return Match
		}
		return Mismatch
	case FieldName:
		return compareStrings(NormalizeName(StringValue(raw, f)), NormalizeName(StringValue(final, f)))
	case FieldThumbnail:
		return compareStrings(NormalizeURL(StringValue(raw, f)), NormalizeURL(StringValue(final, f)))
	}
	return NoData
}

func compareStrings(a, b string) Outcome {
	switch {
	case a == "" && b == "":
		return NoData
	case a == "" || b == "":
		return Mismatch
	case a == b:
		return Match
	default:
		return Mismatch
	}
}

// PricesEqual reports whether a and b differ by strictly less than
// PriceTolerance. The difference is rounded to 1e-6 first so binary float
// noise (1.02-1.00 = 0.020000000000000018) cannot flip the boundary.
func PricesEqual(a, b float64) bool {
	diff := math.Round(math.Abs(a-b)*1e6) / 1e6
	return diff < PriceTolerance
}

// NormalizeName strips markup, unescapes entities, case-folds and collapses
// whitespace.
func NormalizeName(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeURL drops the query string and fragment and lowercases.
func NormalizeURL(s string) string {
	s, _, _ = strings.Cut(s, "#")
	s, _, _ = strings.Cut(s, "?")
	return strings.ToLower(strings.TrimSpace(s))
}

// StringValue returns the first string-valued key of field f in payload.
func StringValue(payload map[string]any, f Field) string {
	for _, pk := range keyTable {
		if pk.field != f {
			continue
		}
		if s, ok := payload[pk.key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// PriceValue returns the price in major units from the first usable price
// key of payload. Minor-unit keys are divided by 100.
func PriceValue(payload map[string]any) (float64, bool) {
	for _, pk := range keyTable {
		if pk.field != FieldPrice {
			continue
		}
		v, present := payload[pk.key]
		if !present || v == nil {
			continue
		}
		p, ok := ParsePrice(v)
		if !ok {
			continue
		}
		if pk.minor {
			p /= 100
		}
		return p, true
	}
	return 0, false
}
