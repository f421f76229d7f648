// Package document implements the per-document transform stage (spec
// C4): canonicalizing a raw JSON-ish document into the two sorted views
// (original, flattened) the extractor pipeline consumes, encoded with an
// OBKV ((field_id, value_bytes)* sorted by field_id) binary layout.
package document

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/blaze-search/blaze/internal/ids"
)

// Document is the opaque field-name -> JSON-value mapping spec §3
// describes. Values are whatever encoding/json produced when decoding a
// request body: string, float64, bool, nil, []any, map[string]any.
type Document map[string]any

// Flatten walks doc and produces dotted-path entries for nested objects
// and indexed entries for arrays, matching spec §3 ("arrays are
// flattened by index at extraction time") and scenario S6 (dotted-path
// and nested-object primary keys must be equivalent).
func Flatten(doc Document) Document {
	out := make(Document)
	flattenInto("", doc, out)
	return out
}

func flattenInto(prefix string, value any, out Document) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			flattenInto(path, child, out)
		}
	case []any:
		for i, child := range v {
			path := fmt.Sprintf("%s.%d", prefix, i)
			flattenInto(path, child, out)
		}
	default:
		if prefix != "" {
			out[prefix] = v
		}
	}
}

// Lookup resolves a dotted path against the original (unflattened)
// document, so `{"complex":{"nested":{"id":0}}}`,
// `{"complex.nested":{"id":0}}`, and `{"complex.nested.id":0}` all
// resolve "complex.nested.id" to the same value (scenario S6).
func Lookup(doc Document, path string) (any, bool) {
	flat := Flatten(doc)
	if v, ok := flat[path]; ok {
		return v, true
	}
	// doc may already use a dotted top-level key, or the path may name
	// a whole sub-object rather than a leaf.
	if v, ok := doc[path]; ok {
		return v, true
	}
	return nil, false
}

// CanonicalString renders a primary-key value (string or number) to its
// canonical string form (spec §9 open question: "implementations should
// canonicalize to a string representation").
func CanonicalString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

// OBKVEncode serializes fields (keyed by field id) into the OBKV binary
// layout: repeated (field_id uint16, length uint32, value bytes) sorted
// by field_id ascending.
func OBKVEncode(fields map[uint16][]byte) []byte {
	ids := make([]uint16, 0, len(fields))
	for id := range fields {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer
	var hdr [6]byte
	for _, id := range ids {
		value := fields[id]
		binary.BigEndian.PutUint16(hdr[0:2], id)
		binary.BigEndian.PutUint32(hdr[2:6], uint32(len(value)))
		buf.Write(hdr[:])
		buf.Write(value)
	}
	return buf.Bytes()
}

// OBKVDecode reverses OBKVEncode.
func OBKVDecode(data []byte) (map[uint16][]byte, error) {
	out := make(map[uint16][]byte)
	for len(data) > 0 {
		if len(data) < 6 {
			return nil, fmt.Errorf("blaze: truncated obkv header")
		}
		id := binary.BigEndian.Uint16(data[0:2])
		length := binary.BigEndian.Uint32(data[2:6])
		data = data[6:]
		if uint32(len(data)) < length {
			return nil, fmt.Errorf("blaze: truncated obkv value for field %d", id)
		}
		out[id] = data[:length]
		data = data[length:]
	}
	return out, nil
}

// EncodeFields assigns (creating if absent) a field id for every leaf
// path of doc via fm, JSON-encodes each value, and returns the field-id
// keyed map OBKVEncode expects.
func EncodeFields(doc Document, fm *ids.FieldMap) (map[uint16][]byte, error) {
	out := make(map[uint16][]byte, len(doc))
	for name, value := range doc {
		id, err := fm.ID(name)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("blaze: encoding field %q: %w", name, err)
		}
		out[id] = raw
	}
	return out, nil
}
