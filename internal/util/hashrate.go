package util

import (
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// hashrateUnits maps a normalized unit prefix to its H/s multiplier.
var hashrateUnits = map[string]int32{
	"":  0,
	"K": 3,
	"M": 6,
	"G": 9,
	"T": 12,
	"P": 15,
	"E": 18,
}

var hashrateRe = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?|\.\d+)\s*([A-Za-z]*)\s*(?:/\s*[sS])?\s*$`)

// ParseHashrate converts a human readable hashrate such as "123.4 GH/s",
// "50MH" or "1.2T" to H/s. Strings that cannot be parsed yield 0.
func ParseHashrate(s string) float64 {
	m := hashrateRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	unit := strings.ToUpper(m[2])
	if len(unit) > 1 {
		unit = strings.TrimSuffix(unit, "H")
	} else if unit == "H" {
		unit = ""
	}
	exp, ok := hashrateUnits[unit]
	if !ok {
		return 0
	}

	value, err := decimal.NewFromString(m[1])
	if err != nil {
		return 0
	}
	f, _ := value.Shift(exp).Float64()
	return f
}

// FormatHashrate renders H/s with an SI prefix, e.g. "123.4 GH/s".
func FormatHashrate(hs float64) string {
	if hs <= 0 {
		return "0 H/s"
	}
	return humanize.SIWithDigits(hs, 2, "H/s")
}
