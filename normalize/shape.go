// Package normalize turns raw archive entries into price observations.
//
// Upstream entries come in a handful of shapes. Each entry is classified into
// exactly one Shape first and then mapped to zero or more observations; there
// is no parse-and-retry between shapes.
package normalize

import "github.com/teranos/pricehist/price"

// Shape is the recognised layout of one entry.
type Shape int

const (
	// ShapeUnrecognized is anything that is not a known layout: plain text,
	// broken JSON, a JSON array or an object with none of the expected keys.
	ShapeUnrecognized Shape = iota
	// ShapeResults is an object carrying a "results" array of product records.
	ShapeResults
	// ShapeSingle is one product record whose id may live in the entry path.
	ShapeSingle
	// ShapeIgnored is an entry the path rule or category filter excludes.
	ShapeIgnored
)

func (s Shape) String() string {
	switch s {
	case ShapeResults:
		return "results"
	case ShapeSingle:
		return "single"
	case ShapeIgnored:
		return "ignored"
	}
	return "unrecognized"
}

// Rejection reasons
const (
	ReasonNoPrice   = "no_price"
	ReasonNoProduct = "no_product"
)

// Rejection is a record that was understood but cannot be stored.
type Rejection struct {
	Index     int // position in the results array, 0 for single records
	ProductID string
	Reason    string
}

// Result is the outcome of normalizing one entry.
type Result struct {
	Shape        Shape
	Observations []price.Observation
	Rejected     []Rejection
	// Err explains a ShapeUnrecognized result. It is marked
	// errors.ErrMalformedRecord.
	Err error
}

// Malformed reports whether the entry as a whole could not be understood.
func (r Result) Malformed() bool { return r.Shape == ShapeUnrecognized }
