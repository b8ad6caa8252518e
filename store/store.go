// Package store persists price observations keyed by (product_id, date).
//
// The only write is an insert-or-replace upsert; the only other mutation is
// DeleteDate, used to purge a date whose ingestion did not complete. A date
// with at least one row is therefore a completed date.
package store

import (
	"context"

	"github.com/teranos/pricehist/price"
)

// Store is a price history backend.
type Store interface {
	// HasDate reports whether any observation exists for d.
	HasDate(ctx context.Context, d price.Date) (bool, error)
	// CountDate returns the number of rows stored for d.
	CountDate(ctx context.Context, d price.Date) (int64, error)
	// Upsert writes obs in one transaction. Later elements win over earlier
	// ones with the same key.
	Upsert(ctx context.Context, obs []price.Observation) error
	// DeleteDate removes every row for d and returns how many were removed.
	DeleteDate(ctx context.Context, d price.Date) (int64, error)
	// Get returns the stored observation for one key, or an ErrNotFound error.
	Get(ctx context.Context, productID string, d price.Date) (*price.Observation, error)
	// Stats summarises the table.
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats describes the stored history.
type Stats struct {
	Backend   string `json:"backend" yaml:"backend"`
	Rows      int64  `json:"rows" yaml:"rows"`
	Dates     int64  `json:"dates" yaml:"dates"`
	Products  int64  `json:"products" yaml:"products"`
	FirstDate string `json:"first_date,omitempty" yaml:"first_date,omitempty"`
	LastDate  string `json:"last_date,omitempty" yaml:"last_date,omitempty"`
	Schema    string `json:"schema,omitempty" yaml:"schema,omitempty"` // applied migration, sqlite only
}

// dedupe keeps the last observation per key, preserving first-seen order.
func dedupe(obs []price.Observation) []price.Observation {
	index := make(map[price.Key]int, len(obs))
	out := make([]price.Observation, 0, len(obs))
	for _, o := range obs {
		if i, ok := index[o.Key()]; ok {
			out[i] = o
			continue
		}
		index[o.Key()] = len(out)
		out = append(out, o)
	}
	return out
}
