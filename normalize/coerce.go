package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// resolvePrice walks PriceFields in order and returns the first finite,
// strictly positive value.
func (n *Normalizer) resolvePrice(rec map[string]any) (decimal.Decimal, bool) {
	for _, f := range n.PriceFields {
		if p, ok := positiveDecimal(rec[f]); ok {
			return p, true
		}
	}
	return decimal.Decimal{}, false
}

// volume is 0 when absent, negative, fractional or not a number.
func (n *Normalizer) volume(rec map[string]any) int64 {
	if n.VolumeField == "" {
		return 0
	}
	var s string
	switch v := rec[n.VolumeField].(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0
	}
	vol, err := strconv.ParseInt(s, 10, 64)
	if err != nil || vol < 0 {
		return 0
	}
	return vol
}

// positiveDecimal accepts JSON numbers and numeric strings. NaN, infinities,
// zero and negatives count as absent.
func positiveDecimal(v any) (decimal.Decimal, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return decimal.Decimal{}, false
	}
	if s == "" {
		return decimal.Decimal{}, false
	}
	// Overflowing values such as 1e400 count as non-finite.
	if f, err := strconv.ParseFloat(s, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// productID accepts string ids and integral numeric ids.
func productID(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		if _, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return t.String()
		}
	}
	return ""
}
