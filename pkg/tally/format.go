package tally

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// Precision is the number of decimal places fractional results are rounded to.
	Precision = 6

	// Undefined is displayed for values that are not finite numbers.
	Undefined = "undefined"
)

var printer = message.NewPrinter(language.English)

// Format renders v for display. Integral values are grouped in thousands
// without a decimal point; other values are rounded to Precision places with
// trailing zeros removed.
func Format(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Undefined
	}

	if v == math.Trunc(v) {
		return group(v, 0)
	}

	rounded := strconv.FormatFloat(v, 'f', Precision, 64)
	rounded = strings.TrimRight(rounded, "0")
	rounded = strings.TrimSuffix(rounded, ".")

	decimals := 0
	if i := strings.IndexByte(rounded, '.'); i >= 0 {
		decimals = len(rounded) - i - 1
	}

	value, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return Undefined
	}
	return group(value, decimals)
}

func group(v float64, decimals int) string {
	if v == 0 {
		v = 0 // drops the sign of negative zero
	}
	return printer.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

// ParseFormatted reads back a value produced by Format.
func ParseFormatted(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == Undefined {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse formatted value %q: %w", s, err)
	}
	return v, nil
}
