package pools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

// decode unmarshals a pool payload.
func decode(raw []byte, v interface{}) error {
	if err := sonic.ConfigStd.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// number accepts JSON numbers, numeric strings, empty strings and null.
// Pools are inconsistent about quoting, and atomic-unit balances may exceed
// float64 precision, so the literal text is kept.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null" || s == "true" || s == "false":
		*n = ""
	case strings.HasPrefix(s, `"`):
		unq, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		*n = number(strings.TrimSpace(unq))
	default:
		*n = number(s)
	}
	return nil
}

func (n number) Float64() float64 {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return f
}

func (n number) Int() int {
	return int(n.Float64())
}

func (n number) Decimal() decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.NewFromFloat(n.Float64())
	}
	return d
}

// unixMillis normalizes a unix timestamp in seconds or milliseconds.
func unixMillis(ts float64) int64 {
	if ts <= 0 {
		return 0
	}
	if ts >= 1e12 {
		return int64(ts)
	}
	return int64(ts * 1000)
}

// isoMillis parses an RFC 3339 timestamp; invalid input yields 0.
func isoMillis(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// anyFloat reads a float out of a generically decoded JSON value.
func anyFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f
	}
	return 0
}
