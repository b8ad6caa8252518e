package price

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RawEntry is one file read out of an archive. Data is the undecoded payload;
// Segments is Path split on "/" with empty parts removed.
type RawEntry struct {
	Path     string
	Segments []string
	Data     []byte
}

// NewRawEntry builds an entry and splits its path.
func NewRawEntry(path string, data []byte) *RawEntry {
	return &RawEntry{Path: path, Segments: SplitPath(path), Data: data}
}

// SplitPath splits an archive path into its non-empty segments. Both slash
// styles are accepted since some archivers write backslashes.
func SplitPath(path string) []string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	out := parts[:0]
	for _, p := range parts {
		if p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Observation is one product's price on one day. (ProductID, Date) is the
// natural key; a later write for the same key replaces the earlier one.
type Observation struct {
	ProductID string          `json:"product_id"`
	Date      Date            `json:"date"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
}

// Key identifies the row an observation writes to.
type Key struct {
	ProductID string
	Date      Date
}

func (o Observation) Key() Key { return Key{ProductID: o.ProductID, Date: o.Date} }

// Valid reports whether o may be stored: a product, a date, a strictly
// positive price and a non-negative volume.
func (o Observation) Valid() bool {
	return o.ProductID != "" && !o.Date.IsZero() && o.Price.IsPositive() && o.Volume >= 0
}
