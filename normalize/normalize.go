package normalize

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"github.com/teranos/pricehist/am"
	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

const resultsKey = "results"

// PathRule locates identifiers in entry path segments. Indexes may be
// negative to count from the end; -1 is the last segment.
type PathRule struct {
	ProductSegment  int
	CategorySegment int
	KindSegment     int
	// Kinds lists the entry kinds (file names without extension) to ingest.
	// Empty means every kind.
	Kinds []string
}

// Normalizer maps raw entries to observations. Build it with New or Default;
// it is safe for concurrent use once built.
type Normalizer struct {
	PriceFields  []string
	ProductField string
	VolumeField  string
	PathRule     PathRule
	// Categories restricts ingestion to these category segments. Empty means
	// every category.
	Categories []string

	kinds      map[string]struct{}
	categories map[string]struct{}
}

// New builds a normalizer from the ingest configuration.
func New(cfg am.IngestConfig) *Normalizer {
	n := &Normalizer{
		PriceFields:  append([]string(nil), cfg.PriceFields...),
		ProductField: cfg.ProductField,
		VolumeField:  cfg.VolumeField,
		PathRule: PathRule{
			ProductSegment:  cfg.PathRule.ProductSegment,
			CategorySegment: cfg.PathRule.CategorySegment,
			KindSegment:     cfg.PathRule.KindSegment,
			Kinds:           append([]string(nil), cfg.PathRule.Kinds...),
		},
		Categories: append([]string(nil), cfg.Categories...),
	}
	n.index()
	return n
}

// Default returns a normalizer for the upstream layout
// DATE/CATEGORY/PRODUCT/prices preferring midPrice over lowPrice.
func Default() *Normalizer {
	return New(am.DefaultConfig().Ingest)
}

func (n *Normalizer) index() {
	if len(n.PriceFields) == 0 {
		n.PriceFields = []string{"midPrice", "lowPrice"}
	}
	if n.ProductField == "" {
		n.ProductField = "productId"
	}
	n.kinds = toSet(n.PathRule.Kinds)
	n.categories = toSet(n.Categories)
}

// Normalize classifies e and maps it to observations for d.
func (n *Normalizer) Normalize(d price.Date, e *price.RawEntry) Result {
	if n.excluded(e.Segments) {
		return Result{Shape: ShapeIgnored}
	}

	obj, err := decodeObject(e.Data)
	if err != nil {
		return unrecognized(e.Path, err)
	}

	if raw, ok := obj[resultsKey]; ok {
		items, ok := raw.([]any)
		if !ok {
			return unrecognized(e.Path, errors.Newf("%q is not an array", resultsKey))
		}
		return n.results(d, items)
	}
	if n.hasPriceField(obj) {
		return n.single(d, obj, e.Segments)
	}
	return unrecognized(e.Path, errors.New("no results array and no price field"))
}

func (n *Normalizer) results(d price.Date, items []any) Result {
	res := Result{Shape: ShapeResults}
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: ReasonNoProduct})
			continue
		}
		n.record(d, &res, i, rec, "")
	}
	return res
}

func (n *Normalizer) single(d price.Date, obj map[string]any, segments []string) Result {
	res := Result{Shape: ShapeSingle}
	fallback, _ := segment(segments, n.PathRule.ProductSegment)
	n.record(d, &res, 0, obj, fallback)
	return res
}

func (n *Normalizer) record(d price.Date, res *Result, index int, rec map[string]any, fallbackID string) {
	id := productID(rec[n.ProductField])
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		res.Rejected = append(res.Rejected, Rejection{Index: index, Reason: ReasonNoProduct})
		return
	}

	p, ok := n.resolvePrice(rec)
	if !ok {
		res.Rejected = append(res.Rejected, Rejection{Index: index, ProductID: id, Reason: ReasonNoPrice})
		return
	}

	res.Observations = append(res.Observations, price.Observation{
		ProductID: id,
		Date:      d,
		Price:     p,
		Volume:    n.volume(rec),
	})
}

// excluded applies the kind and category filters. A filter whose segment is
// missing from the path excludes the entry.
func (n *Normalizer) excluded(segments []string) bool {
	if len(n.kinds) > 0 {
		kind, ok := segment(segments, n.PathRule.KindSegment)
		if !ok {
			return true
		}
		if _, ok := n.kinds[strings.TrimSuffix(kind, path.Ext(kind))]; !ok {
			return true
		}
	}
	if len(n.categories) > 0 {
		cat, ok := segment(segments, n.PathRule.CategorySegment)
		if !ok {
			return true
		}
		if _, ok := n.categories[cat]; !ok {
			return true
		}
	}
	return false
}

func (n *Normalizer) hasPriceField(obj map[string]any) bool {
	for _, f := range n.PriceFields {
		if _, ok := obj[f]; ok {
			return true
		}
	}
	return false
}

func decodeObject(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty entry")
	}
	if trimmed[0] != '{' {
		return nil, errors.New("not a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.Wrap(err, "decode JSON")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}

func unrecognized(entryPath string, err error) Result {
	return Result{
		Shape: ShapeUnrecognized,
		Err:   errors.Mark(errors.Wrapf(err, "entry %s", entryPath), errors.ErrMalformedRecord),
	}
}

// segment returns segments[i], counting from the end when i is negative.
func segment(segments []string, i int) (string, bool) {
	if i < 0 {
		i += len(segments)
	}
	if i < 0 || i >= len(segments) {
		return "", false
	}
	return segments[i], true
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
