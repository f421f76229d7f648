package kvs

import (
	"encoding/binary"
	"math"
)

// WordPairProximityKey encodes a (word1, word2, proximity) posting key.
// Proximity is clamped into [1,7] per spec §3 and packed as a single
// trailing byte so the key sorts first by word1, then word2, then
// proximity - matching the `word-pair-proximity-docids` bucket's
// (w1, w2, prox) -> bitmap layout in spec §6.
func WordPairProximityKey(word1, word2 string, proximity int) []byte {
	if proximity < 1 {
		proximity = 1
	}
	if proximity > 7 {
		proximity = 7
	}
	key := make([]byte, 0, len(word1)+1+len(word2)+1+1)
	key = append(key, []byte(word1)...)
	key = append(key, 0)
	key = append(key, []byte(word2)...)
	key = append(key, 0)
	key = append(key, byte(proximity))
	return key
}

// EncodePositionCode packs (field_id, position) into a single sortable
// uint32: the field id occupies the high 16 bits, the position the low
// 16 bits, which keeps positions grouped and ordered within a field
// (spec §4.3: "position_code packs (field_id, position) into a sortable
// integer").
func EncodePositionCode(fieldID uint16, position uint16) uint32 {
	return uint32(fieldID)<<16 | uint32(position)
}

// DecodePositionCode reverses EncodePositionCode.
func DecodePositionCode(code uint32) (fieldID, position uint16) {
	return uint16(code >> 16), uint16(code & 0xffff)
}

// WordPositionKey encodes a (word, position_code) posting key for the
// `word-position-docids` / `word-prefix-position-docids` buckets.
func WordPositionKey(word string, positionCode uint32) []byte {
	key := make([]byte, 0, len(word)+1+4)
	key = append(key, []byte(word)...)
	key = append(key, 0)
	var code [4]byte
	binary.BigEndian.PutUint32(code[:], positionCode)
	return append(key, code[:]...)
}

// FacetNumberKey encodes a (field_id, level, value) key for the
// `facet-id-f64-docids` number hierarchy. Values are encoded big-endian
// so that byte-lexicographic order equals numeric order, enabling range
// scans directly on the KVS's native key ordering (spec §3 "Facet
// storage" / §6 encoding note).
func FacetNumberKey(fieldID uint16, level uint8, value float64) []byte {
	key := make([]byte, 0, 2+1+8)
	var fid [2]byte
	binary.BigEndian.PutUint16(fid[:], fieldID)
	key = append(key, fid[:]...)
	key = append(key, level)
	key = append(key, encodeF64SortableBytes(value)...)
	return key
}

// encodeF64SortableBytes maps an IEEE-754 float64 to a big-endian byte
// sequence that preserves numeric ordering, including across the sign
// bit: for non-negative numbers flip the sign bit, for negative numbers
// flip every bit. This is the standard trick used by sorted KV stores
// (LevelDB/RocksDB-style engines) to make floats byte-comparable.
func encodeF64SortableBytes(v float64) []byte {
	bits := math.Float64bits(v)
	if v >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], bits)
	return out[:]
}

// FacetStringKey encodes a (field_id, level, value) key for the
// `facet-id-string-docids` hierarchy. Strings already sort
// byte-lexicographically, so no transform is needed beyond concatenation.
func FacetStringKey(fieldID uint16, level uint8, value string) []byte {
	key := make([]byte, 0, 2+1+len(value))
	var fid [2]byte
	binary.BigEndian.PutUint16(fid[:], fieldID)
	key = append(key, fid[:]...)
	key = append(key, level)
	return append(key, []byte(value)...)
}
