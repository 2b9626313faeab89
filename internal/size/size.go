// Package size parses the storage-size literals accepted by ArkCluster specs
// ("50Gi", "50G", "12e2") into a plain byte count.
package size

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
)

var literalRE = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

var binarySuffixes = map[string]float64{
	"ki": 1024,
	"mi": 1024 * 1024,
	"gi": 1024 * 1024 * 1024,
	"ti": 1024 * 1024 * 1024 * 1024,
	"pi": 1024 * 1024 * 1024 * 1024 * 1024,
	"ei": 1024 * 1024 * 1024 * 1024 * 1024 * 1024,
}

var siSuffixes = map[string]float64{
	"k": 1000,
	"m": 1000 * 1000,
	"g": 1000 * 1000 * 1000,
	"t": 1000 * 1000 * 1000 * 1000,
	"p": 1000 * 1000 * 1000 * 1000 * 1000,
	"e": 1000 * 1000 * 1000 * 1000 * 1000 * 1000,
}

// Parse converts a size literal into a non-negative byte count.
//
// Accepted forms: bare integers, binary-suffixed decimals ("50Gi"),
// SI-suffixed decimals ("50G"), and scientific notation ("5e10" meaning
// 5 × 10^10). Suffixes are case-insensitive.
func Parse(literal string) (int64, error) {
	l := strings.TrimSpace(literal)
	if l == "" {
		return 0, &arkerrors.InvalidSizeError{Literal: literal}
	}

	if n, ok := parseScientific(l); ok {
		if n < 0 {
			return 0, &arkerrors.InvalidSizeError{Literal: literal}
		}
		return n, nil
	}

	m := literalRE.FindStringSubmatch(l)
	if m == nil {
		return 0, &arkerrors.InvalidSizeError{Literal: literal}
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, &arkerrors.InvalidSizeError{Literal: literal}
	}

	suffix := strings.ToLower(m[2])
	multiplier := 1.0
	switch {
	case suffix == "":
		multiplier = 1
	case binarySuffixes[suffix] != 0:
		multiplier = binarySuffixes[suffix]
	case siSuffixes[suffix] != 0:
		multiplier = siSuffixes[suffix]
	default:
		return 0, &arkerrors.InvalidSizeError{Literal: literal}
	}

	bytes := value * multiplier
	if bytes < 0 || math.IsInf(bytes, 0) || math.IsNaN(bytes) {
		return 0, &arkerrors.InvalidSizeError{Literal: literal}
	}

	return int64(bytes), nil
}

// parseScientific recognizes "N e P" (mantissa, literal "e", exponent) and
// returns (mantissa * 10^exponent, true) when the literal matches that shape.
// Anything else returns (0, false) and falls through to the suffix grammar.
func parseScientific(l string) (int64, bool) {
	idx := strings.IndexAny(l, "eE")
	if idx <= 0 || idx == len(l)-1 {
		return 0, false
	}
	mantissaStr := l[:idx]
	expStr := l[idx+1:]

	// Reject forms the suffix grammar already understands, e.g. "5Ei"
	// (binary exabyte), by requiring the exponent to parse as a plain
	// (optionally signed) integer with no trailing letters.
	if _, err := strconv.ParseFloat(mantissaStr, 64); err != nil {
		return 0, false
	}
	exp, err := strconv.Atoi(expStr)
	if err != nil {
		return 0, false
	}

	mantissa, _ := strconv.ParseFloat(mantissaStr, 64)
	bytes := mantissa * math.Pow(10, float64(exp))
	if bytes < 0 || math.IsInf(bytes, 0) || math.IsNaN(bytes) {
		return 0, true
	}
	return int64(bytes), true
}

// Format renders a byte count back into a literal understood by Parse,
// preferring the largest binary suffix that divides evenly; this makes
// Parse(Format(Parse(l))) == Parse(l) hold for every literal Parse accepts.
func Format(bytes int64) string {
	if bytes == 0 {
		return "0"
	}

	order := []struct {
		suffix string
		factor int64
	}{
		{"Ei", 1024 * 1024 * 1024 * 1024 * 1024 * 1024},
		{"Pi", 1024 * 1024 * 1024 * 1024 * 1024},
		{"Ti", 1024 * 1024 * 1024 * 1024},
		{"Gi", 1024 * 1024 * 1024},
		{"Mi", 1024 * 1024},
		{"Ki", 1024},
	}
	for _, o := range order {
		if bytes%o.factor == 0 {
			return fmt.Sprintf("%d%s", bytes/o.factor, o.suffix)
		}
	}
	return strconv.FormatInt(bytes, 10)
}
