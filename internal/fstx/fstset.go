package fstx

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/blevesearch/vellum"
)

// BuildSet constructs an FST over a set of keys (values are irrelevant
// to a words FST, so each maps to 0), used for the `words_fst` and
// `words_prefixes_fst` databases (spec §6) and directly by tests.
// Vellum builders require keys inserted in ascending sorted order, so
// keys is sorted (and deduplicated) before insertion; the input slice is
// not mutated.
func BuildSet(keys []string) ([]byte, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, fmt.Errorf("blaze: creating fst builder: %w", err)
	}
	var last string
	first := true
	for _, k := range sorted {
		if !first && k == last {
			continue
		}
		if err := builder.Insert([]byte(k), 0); err != nil {
			return nil, fmt.Errorf("blaze: inserting %q into fst: %w", k, err)
		}
		last = k
		first = false
	}
	if err := builder.Close(); err != nil {
		return nil, fmt.Errorf("blaze: closing fst builder: %w", err)
	}
	return buf.Bytes(), nil
}

// Load wraps vellum.Load for callers that only need the internal/fstx
// package's own error-message conventions.
func Load(data []byte) (*vellum.FST, error) {
	fst, err := vellum.Load(data)
	if err != nil {
		return nil, fmt.Errorf("blaze: loading fst: %w", err)
	}
	return fst, nil
}
