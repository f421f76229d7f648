// Package criteria implements the ranking pipeline (spec C7): a chain of
// bucket iterators, each refining the bucket its parent just produced into
// strictly-ordered sub-buckets, plus the offset/limit retrieval loop and
// the distinct (deduplication) filter that walks alongside it.
package criteria

import (
	"errors"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// Bucket is one step of spec §4.7's bucket-iterator contract.
type Bucket struct {
	// Candidates is this bucket's document ids with already-excluded ids
	// removed - what the caller should actually consider.
	Candidates *roaring.Bitmap
	// BucketCandidates is the full bucket before exclusion, folded into
	// the caller's running "initial_candidates" accumulator.
	BucketCandidates *roaring.Bitmap
}

// Criterion is spec §4.7's `next(excluded) -> Option<{candidates,
// bucket_candidates}>`: repeated calls walk strictly-monotone buckets in
// ranked order until exhausted (ok == false).
type Criterion interface {
	Next(excluded *roaring.Bitmap) (bucket *Bucket, ok bool, err error)
}

// ErrSortRankingRuleMissing is spec §4.7's validation error: sort_criteria
// was requested on a search but the index's configured criteria order
// does not include the Sort rule.
var ErrSortRankingRuleMissing = errors.New("blaze: sort requested but the Sort ranking rule is not in the configured criteria")

// ValidateSortCriterion enforces that rule, given the configured criteria
// names (spec order: Words, Typo, Proximity, Attribute, Sort, Exactness,
// Asc(field), Desc(field)) and whether this search supplied sort_criteria.
func ValidateSortCriterion(configured []string, sortCriteriaRequested bool) error {
	if !sortCriteriaRequested {
		return nil
	}
	for _, name := range configured {
		if name == "Sort" {
			return nil
		}
	}
	return ErrSortRankingRuleMissing
}

// WordsCriterion is the root of the pipeline: a precomputed, already
// ranked sequence of buckets (best match first). The query-tree builder
// (C2) and its resolution against the word databases (C1) determine the
// buckets; this type only walks them. The spec ranks "fewer missing
// optional words" ahead of more; this implementation groups its
// interpretations into two tiers - every interpretation with no optional
// words (literal phrase, concatenations, splits, the stop-word variant)
// forms tier 0, and each single-word-dropped variant forms tier 1 minus
// whatever tier 0 already claimed - rather than a full power-set of
// optional-word subsets (see internal/query's DESIGN.md entry for why).
type WordsCriterion struct {
	buckets []*roaring.Bitmap
	cursor  int
}

// NewWordsCriterion takes bucket bitmaps already ordered best-first (for
// example []*roaring.Bitmap{tier0, tier1}) and wraps them as a Criterion.
// Bitmaps are used as given; a nil or empty bitmap is simply skipped.
func NewWordsCriterion(buckets []*roaring.Bitmap) *WordsCriterion {
	nonEmpty := make([]*roaring.Bitmap, 0, len(buckets))
	for _, b := range buckets {
		if b != nil && !b.IsEmpty() {
			nonEmpty = append(nonEmpty, b)
		}
	}
	return &WordsCriterion{buckets: nonEmpty}
}

// Next implements Criterion.
func (w *WordsCriterion) Next(excluded *roaring.Bitmap) (*Bucket, bool, error) {
	if w.cursor >= len(w.buckets) {
		return nil, false, nil
	}
	full := w.buckets[w.cursor]
	w.cursor++
	return excludeBucket(full, excluded), true, nil
}

// RankCriterion is the generic wrapper behind Typo, Proximity, Attribute,
// Sort, Exactness, Asc and Desc: all of them refine a parent's bucket by
// grouping its document ids under an integer rank (lower rank = better,
// unless descending is set) and serving the groups as sub-buckets in rank
// order, falling back to the parent for a new input bucket once the
// current one's groups are exhausted - spec §4.7's composition rule.
type RankCriterion struct {
	parent     Criterion
	rank       func(id uint32) int
	descending bool

	groups []*roaring.Bitmap
	cursor int
}

// NewRankCriterion builds a RankCriterion. rank is called once per
// document id the first time its parent bucket is consumed.
func NewRankCriterion(parent Criterion, rank func(id uint32) int, descending bool) *RankCriterion {
	return &RankCriterion{parent: parent, rank: rank, descending: descending}
}

// Next implements Criterion.
func (c *RankCriterion) Next(excluded *roaring.Bitmap) (*Bucket, bool, error) {
	for c.cursor >= len(c.groups) {
		parentBucket, ok, err := c.parent.Next(excluded)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		c.groups = groupByRank(parentBucket.BucketCandidates, c.rank, c.descending)
		c.cursor = 0
	}
	full := c.groups[c.cursor]
	c.cursor++
	return excludeBucket(full, excluded), true, nil
}

// groupByRank partitions universe's ids by rank(id), returning the
// groups ordered ascending (or descending) by that rank.
func groupByRank(universe *roaring.Bitmap, rank func(uint32) int, descending bool) []*roaring.Bitmap {
	groups := make(map[int]*roaring.Bitmap)
	it := universe.Iterator()
	for it.HasNext() {
		id := it.Next()
		r := rank(id)
		bm, ok := groups[r]
		if !ok {
			bm = roaring.New()
			groups[r] = bm
		}
		bm.Add(id)
	}
	ranks := make([]int, 0, len(groups))
	for r := range groups {
		ranks = append(ranks, r)
	}
	if descending {
		sort.Sort(sort.Reverse(sort.IntSlice(ranks)))
	} else {
		sort.Ints(ranks)
	}
	out := make([]*roaring.Bitmap, len(ranks))
	for i, r := range ranks {
		out[i] = groups[r]
	}
	return out
}

func excludeBucket(full, excluded *roaring.Bitmap) *Bucket {
	candidates := roaring.New()
	candidates.Or(full)
	if excluded != nil {
		candidates.AndNot(excluded)
	}
	return &Bucket{Candidates: candidates, BucketCandidates: full}
}

// Distinct is spec §4.7's distinct filter, applied to the ids a bucket
// actually yields (in ranked order) before they are paged into a result:
// Noop keeps everything, Facet(F) drops documents whose F value was
// already seen by an earlier, better-ranked document.
type Distinct interface {
	Apply(ids []uint32) (kept []uint32)
}

// NoopDistinct implements Distinct by keeping every id.
type NoopDistinct struct{}

// Apply implements Distinct.
func (NoopDistinct) Apply(ids []uint32) []uint32 { return ids }

// FacetDistinct implements spec's Facet(F) distinct filter: ValueOf
// resolves a document's distinct-attribute value (ok is false when the
// document has none, in which case it is never deduplicated away).
type FacetDistinct struct {
	ValueOf func(id uint32) (value string, ok bool)
	seen    map[string]struct{}
}

// NewFacetDistinct constructs a FacetDistinct over the given resolver.
func NewFacetDistinct(valueOf func(id uint32) (string, bool)) *FacetDistinct {
	return &FacetDistinct{ValueOf: valueOf, seen: make(map[string]struct{})}
}

// Apply implements Distinct.
func (d *FacetDistinct) Apply(ids []uint32) []uint32 {
	kept := make([]uint32, 0, len(ids))
	for _, id := range ids {
		value, ok := d.ValueOf(id)
		if ok {
			if _, dup := d.seen[value]; dup {
				continue
			}
			d.seen[value] = struct{}{}
		}
		kept = append(kept, id)
	}
	return kept
}

// Retrieve runs spec §4.7's retrieval loop: pull buckets from top in
// ranked order, accumulate every bucket's ids into excluded so no later
// bucket reconsiders them, distinct-filter each bucket's ids, then skip
// offset and collect up to limit ids. It stops once limit results have
// been collected or top is exhausted.
func Retrieve(top Criterion, distinct Distinct, offset, limit int) ([]uint32, error) {
	if distinct == nil {
		distinct = NoopDistinct{}
	}
	excluded := roaring.New()
	result := make([]uint32, 0, limit)
	remaining := offset

	for len(result) < limit {
		bucket, ok, err := top.Next(excluded)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		excluded.Or(bucket.BucketCandidates)

		ids := bitmapToSlice(bucket.Candidates)
		for _, id := range distinct.Apply(ids) {
			if remaining > 0 {
				remaining--
				continue
			}
			result = append(result, id)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func bitmapToSlice(bm *roaring.Bitmap) []uint32 {
	out := make([]uint32, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}
