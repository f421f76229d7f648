package sortrun

import (
	"bytes"
	"testing"
)

func bitmapUnionCombiner(existing, incoming []byte) []byte {
	// Test stand-in for the real bitmap union combiner: concatenation
	// lets us assert every contributing value survived the merge.
	out := make([]byte, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	out = append(out, incoming...)
	return out
}

func TestSorterFinalizeWithoutSpill(t *testing.T) {
	s := NewSorter(0, nil)
	entries := map[string]string{"fox": "3", "brown": "2", "quick": "1"}
	for k, v := range entries {
		if err := s.Add([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}

	var order []string
	err := s.Finalize(func(key, value []byte) error {
		order = append(order, string(key))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"brown", "fox", "quick"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestSorterSpillsAndMergesAcrossRuns(t *testing.T) {
	// A tiny max memory forces a spill after every second Add here, so
	// Finalize must merge two on-disk runs (nothing is left in memory).
	s := NewSorter(8, bitmapUnionCombiner)
	if err := s.Add([]byte("quick"), []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add([]byte("brown"), []byte("B")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add([]byte("quick"), []byte("C")); err != nil {
		t.Fatal(err)
	}
	if err := s.Add([]byte("fox"), []byte("D")); err != nil {
		t.Fatal(err)
	}

	results := map[string][]byte{}
	err := s.Finalize(func(key, value []byte) error {
		results[string(key)] = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(s.runPaths) != 0 {
		t.Fatalf("expected Finalize to clean up spill files, %d remain", len(s.runPaths))
	}
	if !bytes.Contains(results["quick"], []byte("A")) || !bytes.Contains(results["quick"], []byte("C")) {
		t.Fatalf("expected quick's value to combine across runs, got %q", results["quick"])
	}
	if string(results["brown"]) != "B" || string(results["fox"]) != "D" {
		t.Fatalf("unexpected singleton values: brown=%q fox=%q", results["brown"], results["fox"])
	}
}
