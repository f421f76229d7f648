package criteria

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
)

func bitmapOf(ids ...uint32) *roaring.Bitmap {
	bm := roaring.New()
	bm.AddMany(ids)
	return bm
}

func TestWordsCriterionYieldsTiersInOrder(t *testing.T) {
	tier0 := bitmapOf(1, 2)
	tier1 := bitmapOf(2, 3, 4)
	w := NewWordsCriterion([]*roaring.Bitmap{tier0, tier1})

	excluded := roaring.New()
	b, ok, err := w.Next(excluded)
	if err != nil || !ok {
		t.Fatalf("first Next: ok=%v err=%v", ok, err)
	}
	if !b.Candidates.Equals(bitmapOf(1, 2)) {
		t.Fatalf("tier 0 candidates = %v, want {1,2}", b.Candidates.ToArray())
	}
	excluded.Or(b.BucketCandidates)

	b, ok, err = w.Next(excluded)
	if err != nil || !ok {
		t.Fatalf("second Next: ok=%v err=%v", ok, err)
	}
	if !b.Candidates.Equals(bitmapOf(3, 4)) {
		t.Fatalf("tier 1 candidates = %v, want {3,4} (2 already excluded)", b.Candidates.ToArray())
	}

	if _, ok, _ := w.Next(excluded); ok {
		t.Fatal("expected WordsCriterion to be exhausted after two tiers")
	}
}

func TestWordsCriterionSkipsEmptyTiers(t *testing.T) {
	w := NewWordsCriterion([]*roaring.Bitmap{roaring.New(), bitmapOf(5)})
	b, ok, err := w.Next(roaring.New())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if !b.Candidates.Equals(bitmapOf(5)) {
		t.Fatalf("expected the empty tier to be skipped, got %v", b.Candidates.ToArray())
	}
}

func TestRankCriterionOrdersAscendingByDefault(t *testing.T) {
	universe := bitmapOf(1, 2, 3, 4)
	root := NewWordsCriterion([]*roaring.Bitmap{universe})
	dist := map[uint32]int{1: 2, 2: 0, 3: 1, 4: 0}
	typo := NewRankCriterion(root, func(id uint32) int { return dist[id] }, false)

	var order []*roaring.Bitmap
	excluded := roaring.New()
	for {
		b, ok, err := typo.Next(excluded)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		order = append(order, b.Candidates)
		excluded.Or(b.BucketCandidates)
	}
	if len(order) != 3 {
		t.Fatalf("got %d rank buckets, want 3 (distances 0,1,2)", len(order))
	}
	if !order[0].Equals(bitmapOf(2, 4)) {
		t.Fatalf("best bucket = %v, want {2,4} (distance 0)", order[0].ToArray())
	}
	if !order[1].Equals(bitmapOf(3)) {
		t.Fatalf("second bucket = %v, want {3} (distance 1)", order[1].ToArray())
	}
	if !order[2].Equals(bitmapOf(1)) {
		t.Fatalf("third bucket = %v, want {1} (distance 2)", order[2].ToArray())
	}
}

func TestRankCriterionDescending(t *testing.T) {
	universe := bitmapOf(1, 2, 3)
	root := NewWordsCriterion([]*roaring.Bitmap{universe})
	value := map[uint32]int{1: 10, 2: 30, 3: 20}
	desc := NewRankCriterion(root, func(id uint32) int { return value[id] }, true)

	b, ok, err := desc.Next(roaring.New())
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if !b.Candidates.Equals(bitmapOf(2)) {
		t.Fatalf("first descending bucket = %v, want {2} (value 30)", b.Candidates.ToArray())
	}
}

func TestRankCriterionChainsThroughMultipleParentBuckets(t *testing.T) {
	tier0 := bitmapOf(1, 2)
	tier1 := bitmapOf(3)
	root := NewWordsCriterion([]*roaring.Bitmap{tier0, tier1})
	rank := map[uint32]int{1: 1, 2: 0, 3: 0}
	typo := NewRankCriterion(root, func(id uint32) int { return rank[id] }, false)

	excluded := roaring.New()
	var seen []uint32
	for i := 0; i < 10; i++ {
		b, ok, err := typo.Next(excluded)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		excluded.Or(b.BucketCandidates)
		seen = append(seen, b.Candidates.ToArray()...)
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 ids to surface across both parent tiers, got %v", seen)
	}
}

func TestValidateSortCriterionRequiresSortRule(t *testing.T) {
	if err := ValidateSortCriterion([]string{"Words", "Typo"}, true); err != ErrSortRankingRuleMissing {
		t.Fatalf("got %v, want ErrSortRankingRuleMissing", err)
	}
	if err := ValidateSortCriterion([]string{"Words", "Sort", "Typo"}, true); err != nil {
		t.Fatalf("unexpected error with Sort configured: %v", err)
	}
	if err := ValidateSortCriterion([]string{"Words", "Typo"}, false); err != nil {
		t.Fatalf("unexpected error when sort was not requested: %v", err)
	}
}

func TestFacetDistinctDropsDuplicateValues(t *testing.T) {
	values := map[uint32]string{1: "red", 2: "blue", 3: "red", 4: "green"}
	d := NewFacetDistinct(func(id uint32) (string, bool) {
		v, ok := values[id]
		return v, ok
	})
	kept := d.Apply([]uint32{1, 2, 3, 4})
	if len(kept) != 3 {
		t.Fatalf("kept = %v, want 3 ids (duplicate red dropped)", kept)
	}
	for _, id := range kept {
		if id == 3 {
			t.Fatal("expected id 3 (duplicate red) to be dropped")
		}
	}
}

func TestFacetDistinctKeepsValuelessDocuments(t *testing.T) {
	d := NewFacetDistinct(func(id uint32) (string, bool) { return "", false })
	kept := d.Apply([]uint32{1, 2, 3})
	if len(kept) != 3 {
		t.Fatalf("kept = %v, want all 3 (no distinct value set)", kept)
	}
}

func TestRetrievePagesAcrossBuckets(t *testing.T) {
	tier0 := bitmapOf(10, 11)
	tier1 := bitmapOf(20, 21, 22)
	root := NewWordsCriterion([]*roaring.Bitmap{tier0, tier1})

	got, err := Retrieve(root, NoopDistinct{}, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{11, 20, 21}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRetrieveStopsWhenCriteriaExhausted(t *testing.T) {
	root := NewWordsCriterion([]*roaring.Bitmap{bitmapOf(1, 2)})
	got, err := Retrieve(root, NoopDistinct{}, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 ids even though limit was 10", got)
	}
}

func TestRetrieveAppliesDistinctBeforePaging(t *testing.T) {
	root := NewWordsCriterion([]*roaring.Bitmap{bitmapOf(1, 2, 3)})
	values := map[uint32]string{1: "a", 2: "a", 3: "b"}
	dist := NewFacetDistinct(func(id uint32) (string, bool) { return values[id], true })

	got, err := Retrieve(root, dist, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 ids (one of {1,2} deduplicated away)", got)
	}
}
