// Package extract implements the extractor pipeline (spec C3): parallel
// per-chunk extraction of inverted postings, facet values, geo points,
// word positions, and word-pair proximities from staged documents,
// fanned into a single channel of typed chunks for the merger (C5) to
// drain.
package extract

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// Kind identifies which KVS database a Chunk's (key, value) pair targets.
type Kind int

const (
	KindWordDocids Kind = iota
	KindExactWordDocids
	KindWordPositionDocids
	KindWordPairProximityDocids
	KindFacetNumber
	KindFacetString
	KindFieldIDDocids
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindWordDocids:
		return "word-docids"
	case KindExactWordDocids:
		return "exact-word-docids"
	case KindWordPositionDocids:
		return "word-position-docids"
	case KindWordPairProximityDocids:
		return "word-pair-proximity-docids"
	case KindFacetNumber:
		return "facet-id-f64-docids"
	case KindFacetString:
		return "facet-id-string-docids"
	case KindFieldIDDocids:
		return "field-id-docids"
	case KindDocument:
		return "documents"
	default:
		return "unknown"
	}
}

// Chunk is one typed (key, value) entry the merger writes into its
// target database. Value is a serialized roaring bitmap for every Kind
// except KindDocument, whose value is the document's packed bytes.
type Chunk struct {
	Kind  Kind
	Key   []byte
	Value []byte
}

// bitmapOf serializes a roaring bitmap containing exactly id.
func bitmapOf(id uint32) []byte {
	bm := roaring.New()
	bm.Add(id)
	buf, err := bm.ToBytes()
	if err != nil {
		// roaring's in-memory serialization of a single-element bitmap
		// cannot fail; a panic here would indicate a corrupted build.
		panic(fmt.Sprintf("blaze: serializing single-id bitmap: %v", err))
	}
	return buf
}

// unionBitmaps combines two serialized roaring bitmaps by union, the
// combiner every bitmap-valued sorter in this package uses (spec §4.3:
// "Bitmap-valued keys merge by union").
func unionBitmaps(existing, incoming []byte) []byte {
	a := roaring.New()
	if len(existing) > 0 {
		if _, err := a.FromBuffer(existing); err != nil {
			panic(fmt.Sprintf("blaze: decoding bitmap during merge: %v", err))
		}
	}
	b := roaring.New()
	if len(incoming) > 0 {
		if _, err := b.FromBuffer(incoming); err != nil {
			panic(fmt.Sprintf("blaze: decoding bitmap during merge: %v", err))
		}
	}
	a.Or(b)
	buf, err := a.ToBytes()
	if err != nil {
		panic(fmt.Sprintf("blaze: serializing merged bitmap: %v", err))
	}
	return buf
}
