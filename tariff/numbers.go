package tariff

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultMinPrice = 0.2
	DefaultMaxPrice = 10.0
)

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ParseNumber extracts the first decimal literal from text. Whitespace is
// removed and the first comma is read as a decimal separator, so "1,234"
// parses as 1.234, not 1234.
func ParseNumber(text string) (float64, bool) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	compact = strings.Replace(compact, ",", ".", 1)

	m := numberRe.FindString(compact)
	if m == "" {
		return math.NaN(), false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

// ParseCells parses every cell, returning NaN for non numeric ones.
func ParseCells(row RawRow) []float64 {
	out := make([]float64, len(row))
	for i, cell := range row {
		out[i], _ = ParseNumber(cell)
	}
	return out
}

// PickPlausiblePrice returns the first finite candidate within [min, max].
// The range keeps block sizes such as "150" from being read as prices.
func PickPlausiblePrice(candidates []float64, min, max float64) (float64, bool) {
	for _, v := range candidates {
		if isFinite(v) && v >= min && v <= max {
			return v, true
		}
	}
	return 0, false
}

// lastNonNegative returns the last finite, non-negative value.
func lastNonNegative(values []float64) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if v := values[i]; isFinite(v) && v >= 0 {
			return v, true
		}
	}
	return 0, false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
