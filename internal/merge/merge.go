// Package merge implements the merger/writer (spec C5): draining the
// extractor pipeline's chunk channel into the embedded store under the
// single write transaction spec §5 grants the merger, purging a
// Replace-mode document's previous postings before the new ones land,
// and persisting `main`'s bookkeeping records (primary key, field-ids
// map, field distribution, documents-ids, external-documents-ids,
// next-internal-id).
package merge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/extract"
	"github.com/blaze-search/blaze/internal/fstx"
	"github.com/blaze-search/blaze/internal/ids"
	"github.com/blaze-search/blaze/internal/kvs"
)

// Progress reports merger advancement toward spec §4.5's
// "databases_seen / total_databases = 12" counter. The five prefix
// databases are reported separately by internal/prefixdb once C6 runs.
type Progress struct {
	Database       string
	DatabasesSeen  int
	TotalDatabases int
}

// ProgressFunc receives one Progress report per completed database.
// A nil ProgressFunc is valid and simply discards reports.
type ProgressFunc func(Progress)

// Config carries the identifier-space state a merge needs to persist
// main's bookkeeping records alongside the postings themselves.
type Config struct {
	FieldMap   *ids.FieldMap
	DocIDMap   *ids.DocIDMap
	PrimaryKey string
	Mode       document.Mode
}

// BatchResult summarizes one merged batch for the caller (spec's
// `MergeDataIntoFinalDatabase`-style task summary).
type BatchResult struct {
	DocumentsIndexed  int
	FieldDistribution map[string]int
}

// totalDatabases is spec §4.5's total_databases = 12 (seven merged, five
// prefix-keyed, the latter owned by internal/prefixdb).
const totalDatabases = 12

func bucketFor(kind extract.Kind) (string, bool) {
	switch kind {
	case extract.KindWordDocids:
		return kvs.BucketWordDocids, true
	case extract.KindExactWordDocids:
		return kvs.BucketExactWordDocids, true
	case extract.KindWordPositionDocids:
		return kvs.BucketWordPositionDocids, true
	case extract.KindWordPairProximityDocids:
		return kvs.BucketWordPairProximityDocids, true
	case extract.KindFacetNumber:
		return kvs.BucketFacetIDF64Docids, true
	case extract.KindFacetString:
		return kvs.BucketFacetIDStringDocids, true
	default:
		return "", false
	}
}

// Merge drains chunks into store under a single write transaction,
// purging Replace-mode replaced documents' previous postings first, then
// persists main's bookkeeping records. staged must be the same batch
// extract.Run was given, used to resolve which internal ids are
// replacements and which document-id set the batch touched.
func Merge(store *kvs.Store, staged []document.Staged, chunks <-chan extract.Chunk, cfg Config, onProgress ProgressFunc) (*BatchResult, error) {
	fieldCounts := make(map[uint16]int)
	docIDs := roaring.New()
	for _, s := range staged {
		docIDs.Add(s.Internal)
	}

	err := store.Update(func(tx *kvs.Tx) error {
		if cfg.Mode == document.Replace {
			for _, s := range staged {
				if !s.Replaced {
					continue
				}
				if err := purgeDocument(tx, s.Internal); err != nil {
					return fmt.Errorf("blaze: purging replaced document %q: %w", s.External, err)
				}
			}
		}

		for c := range chunks {
			switch c.Kind {
			case extract.KindDocument:
				if err := mergeDocument(tx, cfg.Mode, c.Key, c.Value); err != nil {
					return err
				}
			case extract.KindFieldIDDocids:
				tallyFieldPresence(c.Value, fieldCounts)
			default:
				bucket, ok := bucketFor(c.Kind)
				if !ok {
					return fmt.Errorf("blaze: merge: unhandled chunk kind %s", c.Kind)
				}
				bm := roaring.New()
				if len(c.Value) > 0 {
					if _, err := bm.FromBuffer(c.Value); err != nil {
						return fmt.Errorf("blaze: decoding %s bitmap: %w", bucket, err)
					}
				}
				if err := tx.MergeBitmap(bucket, string(c.Key), bm); err != nil {
					return fmt.Errorf("blaze: merging into %s: %w", bucket, err)
				}
			}
		}

		for seen, db := range kvs.MergedDatabases {
			if onProgress != nil {
				onProgress(Progress{Database: db, DatabasesSeen: seen + 1, TotalDatabases: totalDatabases})
			}
		}

		return persistBookkeeping(tx, cfg, docIDs, fieldCounts)
	})
	if err != nil {
		return nil, err
	}

	dist := make(map[string]int, len(fieldCounts))
	for id, n := range fieldCounts {
		if name, ok := cfg.FieldMap.Name(id); ok {
			dist[name] = n
		}
	}
	return &BatchResult{DocumentsIndexed: len(staged), FieldDistribution: dist}, nil
}

func tallyFieldPresence(value []byte, fieldCounts map[uint16]int) {
	if len(value) == 0 {
		return
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(value); err != nil {
		return
	}
	it := bm.Iterator()
	for it.HasNext() {
		fieldCounts[uint16(it.Next())]++
	}
}

// mergeDocument writes a KindDocument chunk's packed bytes into the
// `documents` bucket. Replace mode overwrites; Update mode shallow-merges
// the incoming top-level keys onto whatever was stored, matching C4's
// Replace/Update distinction at the document-storage layer as well as
// the postings layer.
func mergeDocument(tx *kvs.Tx, mode document.Mode, key, value []byte) error {
	if mode == document.Replace {
		return tx.PutBytes(kvs.BucketDocuments, string(key), value)
	}
	existing, err := tx.GetBytes(kvs.BucketDocuments, string(key))
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return tx.PutBytes(kvs.BucketDocuments, string(key), value)
	}
	var prev, next map[string]any
	if err := json.Unmarshal(existing, &prev); err != nil {
		return fmt.Errorf("blaze: decoding stored document for update merge: %w", err)
	}
	if err := json.Unmarshal(value, &next); err != nil {
		return fmt.Errorf("blaze: decoding incoming document for update merge: %w", err)
	}
	for k, v := range next {
		prev[k] = v
	}
	merged, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("blaze: encoding merged document: %w", err)
	}
	return tx.PutBytes(kvs.BucketDocuments, string(key), merged)
}

// purgeDocument removes id from every posting in every merged postings
// database ahead of a Replace-mode re-ingest. This engine keeps no
// reverse (docid -> posting keys) index, so purge scans each bucket's
// keys fully; that is the first place to optimize if purge-heavy
// workloads ever dominate merge time, but it keeps correctness simple
// for now.
func purgeDocument(tx *kvs.Tx, id uint32) error {
	buckets := []string{
		kvs.BucketWordDocids,
		kvs.BucketExactWordDocids,
		kvs.BucketWordPairProximityDocids,
		kvs.BucketWordPositionDocids,
		kvs.BucketFacetIDStringDocids,
		kvs.BucketFacetIDF64Docids,
	}
	single := roaring.New()
	single.Add(id)
	for _, bucket := range buckets {
		var keys []string
		if err := tx.ForEachKey(bucket, func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := tx.SubtractBitmap(bucket, k, single); err != nil {
				return err
			}
		}
	}
	return nil
}

func persistBookkeeping(tx *kvs.Tx, cfg Config, docIDs *roaring.Bitmap, fieldCounts map[uint16]int) error {
	if cfg.PrimaryKey != "" {
		existing, err := tx.GetBytes(kvs.BucketMain, kvs.KeyPrimaryKey)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := tx.PutBytes(kvs.BucketMain, kvs.KeyPrimaryKey, []byte(cfg.PrimaryKey)); err != nil {
				return err
			}
		}
	}

	fmBytes, err := ids.MarshalFieldMap(cfg.FieldMap)
	if err != nil {
		return fmt.Errorf("blaze: encoding fields-ids-map: %w", err)
	}
	if err := tx.PutBytes(kvs.BucketMain, kvs.KeyFieldsIDsMap, fmBytes); err != nil {
		return err
	}

	// Rebuild the words FST from the surviving word-docids keys so C6 has
	// a current FST to diff its prefix rebuild against (kvs.Tx.ForEachKey's
	// doc comment: "used by C5 to rebuild the words FST ... and by C6 to
	// enumerate prefix matches").
	var words []string
	if err := tx.ForEachKey(kvs.BucketWordDocids, func(k, v []byte) error {
		words = append(words, string(k))
		return nil
	}); err != nil {
		return err
	}
	wordsFST, err := fstx.BuildSet(words)
	if err != nil {
		return fmt.Errorf("blaze: building words-fst: %w", err)
	}
	if err := tx.PutBytes(kvs.BucketMain, kvs.KeyWordsFST, wordsFST); err != nil {
		return err
	}

	existingIDs, err := tx.GetBitmap(kvs.BucketMain, kvs.KeyDocumentsIDs)
	if err != nil {
		return err
	}
	existingIDs.Or(docIDs)
	if err := tx.PutBitmap(kvs.BucketMain, kvs.KeyDocumentsIDs, existingIDs); err != nil {
		return err
	}

	extFST, err := cfg.DocIDMap.Rebuild()
	if err != nil {
		return fmt.Errorf("blaze: rebuilding external-documents-ids fst: %w", err)
	}
	if err := tx.PutBytes(kvs.BucketMain, kvs.KeyExternalDocumentsIDs, extFST); err != nil {
		return err
	}

	var nextBuf [4]byte
	binary.BigEndian.PutUint32(nextBuf[:], cfg.DocIDMap.NextInternalID())
	if err := tx.PutBytes(kvs.BucketMain, kvs.KeyNextInternalID, nextBuf[:]); err != nil {
		return err
	}

	distRaw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyFieldDistribution)
	if err != nil {
		return err
	}
	dist := make(map[string]int)
	if len(distRaw) > 0 {
		if err := json.Unmarshal(distRaw, &dist); err != nil {
			return fmt.Errorf("blaze: decoding existing field-distribution: %w", err)
		}
	}
	for id, n := range fieldCounts {
		if name, ok := cfg.FieldMap.Name(id); ok {
			dist[name] += n
		}
	}
	distBytes, err := json.Marshal(dist)
	if err != nil {
		return fmt.Errorf("blaze: encoding field-distribution: %w", err)
	}
	return tx.PutBytes(kvs.BucketMain, kvs.KeyFieldDistribution, distBytes)
}
