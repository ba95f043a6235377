package capture

import (
	"strconv"
	"strings"
	"unicode"
)

// ParsePrice reads a number or a human-formatted price string such as
// "1 299,99 zł", "$1,299.00" or "12.50". Empty or digitless strings are
// not prices.
func ParsePrice(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		return parsePriceString(s)
	}
	return toFloat(v)
}

func parsePriceString(s string) (float64, bool) {
	var b strings.Builder
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == ',' || r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '\'':
			// thousands separators
		}
	}
	if digits == 0 {
		return 0, false
	}

	num := normalizeSeparators(b.String())
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeSeparators rewrites num so that '.' is the only decimal mark.
//
//	"1.299,99" -> "1299.99"   (last mark is the decimal one)
//	"1,299.99" -> "1299.99"
//	"12,5"     -> "12.5"      (single comma followed by 1-2 digits)
//	"1,299"    -> "1299"      (comma followed by 3 digits groups thousands)
//	"1.299.000"-> "1299000"
func normalizeSeparators(num string) string {
	num = strings.Trim(num, ".,")
	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			return strings.Replace(num, ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")
	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 <= 2 {
			return strings.Replace(num, ",", ".", 1)
		}
		return strings.ReplaceAll(num, ",", "")
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 {
			return strings.ReplaceAll(num, ".", "")
		}
	}
	return num
}
