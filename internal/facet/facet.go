// Package facet builds the higher levels of the number and string facet
// hierarchies (spec §3's "level 0 is per-value, higher levels group
// children for logarithmic range scans") from the level-0 entries C3
// already writes into facet-id-f64-docids / facet-id-string-docids.
package facet

import (
	"bytes"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/blaze-search/blaze/internal/kvs"
)

// Config names spec §6's facet tree fan-out options.
type Config struct {
	// GroupSize is facet_level_group_size: how many children a parent
	// level entry groups.
	GroupSize int
	// MinLevelSize is facet_min_level_size: a level is only built above
	// the current one if it has at least this many entries.
	MinLevelSize int
}

// DefaultConfig mirrors milli's facet tree defaults (group_size 4,
// min_level_size 5).
func DefaultConfig() Config {
	return Config{GroupSize: 4, MinLevelSize: 5}
}

// Build rebuilds the hierarchy above level 0 for every field id in
// fieldIDs, in the given bucket (kvs.BucketFacetIDF64Docids or
// kvs.BucketFacetIDStringDocids). It is non-incremental: every higher
// level for a field is deleted and rebuilt from its level-0 entries each
// call, the same class of simplification internal/prefixdb documents for
// prefix rebuilding - correct, since levels are pure aggregates of level
// 0, just not incremental.
func Build(tx *kvs.Tx, bucket string, fieldIDs []uint16, cfg Config) error {
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = 4
	}
	if cfg.MinLevelSize <= 0 {
		cfg.MinLevelSize = 5
	}
	for _, fieldID := range fieldIDs {
		if err := buildField(tx, bucket, fieldID, cfg); err != nil {
			return err
		}
	}
	return nil
}

type entry struct {
	key    []byte
	bitmap *roaring.Bitmap
}

func buildField(tx *kvs.Tx, bucket string, fieldID uint16, cfg Config) error {
	if err := purgeHigherLevels(tx, bucket, fieldID); err != nil {
		return err
	}
	current, err := loadLevel(tx, bucket, fieldID, 0)
	if err != nil {
		return err
	}

	level := uint8(0)
	for len(current) >= cfg.MinLevelSize && len(current) > cfg.GroupSize {
		next := groupEntries(current, cfg.GroupSize, level+1)
		level++
		if err := writeLevel(tx, bucket, next); err != nil {
			return err
		}
		current = next
	}
	return nil
}

// loadLevel returns every entry at (fieldID, level) in key order, which
// is value order for both hierarchies (floats are stored sign-correct
// big-endian, strings sort byte-lexicographically - see
// internal/kvs/keys.go).
func loadLevel(tx *kvs.Tx, bucket string, fieldID uint16, level uint8) ([]entry, error) {
	prefix := levelPrefix(fieldID, level)
	var out []entry
	if err := tx.ForEachKey(bucket, func(k, v []byte) error {
		if !bytes.HasPrefix(k, prefix) {
			return nil
		}
		bm := roaring.New()
		if len(v) > 0 {
			if _, err := bm.FromBuffer(append([]byte{}, v...)); err != nil {
				return err
			}
		}
		out = append(out, entry{key: append([]byte{}, k...), bitmap: bm})
		return nil
	}); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out, nil
}

// purgeHigherLevels deletes every stored entry for fieldID at level >= 1,
// scanning the whole bucket once (the same full-bucket-scan class of
// simplification internal/merge's purgeDocument documents).
func purgeHigherLevels(tx *kvs.Tx, bucket string, fieldID uint16) error {
	fieldPrefix := fieldPrefix(fieldID)
	var toDelete [][]byte
	if err := tx.ForEachKey(bucket, func(k, v []byte) error {
		if !bytes.HasPrefix(k, fieldPrefix) {
			return nil
		}
		if len(k) > len(fieldPrefix) && k[len(fieldPrefix)] == 0 {
			return nil // level 0, never purged
		}
		toDelete = append(toDelete, append([]byte{}, k...))
		return nil
	}); err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := tx.DeleteKey(bucket, string(k)); err != nil {
			return err
		}
	}
	return nil
}

// groupEntries folds consecutive runs of groupSize entries into one
// parent entry keyed by the group's first (lowest) member re-keyed to
// newLevel, so a range scan starting at a parent key still lands at the
// correct position among siblings.
func groupEntries(entries []entry, groupSize int, newLevel uint8) []entry {
	out := make([]entry, 0, (len(entries)+groupSize-1)/groupSize)
	for i := 0; i < len(entries); i += groupSize {
		end := i + groupSize
		if end > len(entries) {
			end = len(entries)
		}
		union := roaring.New()
		for _, e := range entries[i:end] {
			union.Or(e.bitmap)
		}
		out = append(out, entry{key: rekey(entries[i].key, newLevel), bitmap: union})
	}
	return out
}

func writeLevel(tx *kvs.Tx, bucket string, entries []entry) error {
	for _, e := range entries {
		if err := tx.PutBitmap(bucket, string(e.key), e.bitmap); err != nil {
			return err
		}
	}
	return nil
}

// levelPrefix returns the (field_id, level) key prefix shared by
// FacetNumberKey/FacetStringKey's first three bytes.
func levelPrefix(fieldID uint16, level uint8) []byte {
	p := fieldPrefix(fieldID)
	return append(p, level)
}

func fieldPrefix(fieldID uint16) []byte {
	return []byte{byte(fieldID >> 8), byte(fieldID)}
}

// rekey copies original's key, overwriting its level byte (index 2,
// right after the 2-byte field id every facet key starts with).
func rekey(original []byte, newLevel uint8) []byte {
	out := append([]byte{}, original...)
	out[2] = newLevel
	return out
}
