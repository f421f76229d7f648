package document

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/blaze-search/blaze/internal/ids"
)

// externalIDPattern is the primary key charset spec §3 requires:
// "ASCII letters, digits, hyphens, underscores".
var externalIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Mode selects the two document ingestion semantics of spec C4.
type Mode int

const (
	// Replace discards every previously stored field for a document that
	// already exists, keeping only the fields present in the new payload.
	Replace Mode = iota
	// Update merges the new payload's fields on top of the previously
	// stored ones, leaving untouched fields intact.
	Update
)

// Staged is one document after primary-key discovery/assignment,
// carrying both identifier spaces and the OBKV-ready field map the
// extractors and merger consume.
type Staged struct {
	External string
	Internal uint32
	// Replaced reports whether this document's external id was already
	// known (same external id re-ingested), in which case Internal is the
	// reused internal id. In Replace mode the merger purges this id's
	// postings entries before writing the new ones.
	Replaced  bool
	Fields    map[uint16][]byte
	Flattened Document
	// Original is the document as the caller supplied it (after primary
	// key autogeneration, before flattening), JSON-encoded. The `documents`
	// KVS bucket stores this verbatim so retrieval/highlighting (C8) sees
	// the same shape the caller indexed, not the dotted-path view C3
	// extracts over.
	Original []byte
}

// ErrMissingPrimaryKey is returned when no primary key field was
// configured and none of the well-known candidates ("id", "_id",
// "<index>_id" forms per spec §3) is present in the first document of a
// batch.
var ErrMissingPrimaryKey = fmt.Errorf("blaze: could not infer a primary key")

// ErrInvalidPrimaryKeyValue is returned when a resolved primary key value
// is neither a string nor a number, or fails the external id charset.
var ErrInvalidPrimaryKeyValue = fmt.Errorf("blaze: primary key value must be a string or integer matching [A-Za-z0-9_-]+")

// DiscoverPrimaryKey implements spec C4 step 1: if primaryKey is already
// known, use it; otherwise look through sample's fields (top-level and
// flattened) for one named exactly "id", or else the single field whose
// name ends in "_id" or "Id" if exactly one such candidate exists.
func DiscoverPrimaryKey(primaryKey string, sample Document) (string, error) {
	if primaryKey != "" {
		return primaryKey, nil
	}
	flat := Flatten(sample)
	for k := range sample {
		if !isObjectOrArray(sample[k]) {
			flat[k] = sample[k]
		}
	}

	if _, ok := flat["id"]; ok {
		return "id", nil
	}

	var candidates []string
	for k := range flat {
		if len(k) >= 2 && (k == "id" || hasIDSuffix(k)) {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	return "", ErrMissingPrimaryKey
}

func hasIDSuffix(k string) bool {
	return len(k) > 2 && (k[len(k)-3:] == "_id" || k[len(k)-2:] == "Id")
}

func isObjectOrArray(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// Stage runs primary-key resolution, external/internal id assignment,
// and field encoding for one raw document (spec C4 steps 2-4).
// autogenerate controls whether a document lacking the primary key field
// is assigned a fresh UUIDv4 external id (spec "autogenerate_docids")
// rather than rejected.
func Stage(doc Document, primaryKey string, fm *ids.FieldMap, dm *ids.DocIDMap, mode Mode, autogenerate bool) (Staged, error) {
	value, ok := Lookup(doc, primaryKey)
	var external string
	if ok {
		canon, canOK := CanonicalString(value)
		if !canOK || !externalIDPattern.MatchString(canon) {
			return Staged{}, ErrInvalidPrimaryKeyValue
		}
		external = canon
	} else if autogenerate {
		external = uuid.New().String()
		doc = cloneWithField(doc, primaryKey, external)
	} else {
		return Staged{}, fmt.Errorf("blaze: document missing primary key %q", primaryKey)
	}

	replaced := false
	if _, existed := dm.Lookup(external); existed {
		replaced = true
	}
	internal := dm.Assign(external)

	original, err := json.Marshal(doc)
	if err != nil {
		return Staged{}, fmt.Errorf("blaze: encoding original document %q: %w", external, err)
	}

	flattened := Flatten(doc)
	fields, err := EncodeFields(flattened, fm)
	if err != nil {
		return Staged{}, err
	}
	// The primary key field itself must be addressable too, even though
	// Flatten may have already captured it as a leaf.
	if _, err := fm.ID(primaryKey); err != nil {
		return Staged{}, err
	}

	return Staged{
		External:  external,
		Internal:  internal,
		Replaced:  replaced,
		Fields:    fields,
		Flattened: flattened,
		Original:  original,
	}, nil
}

func cloneWithField(doc Document, key string, value any) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[key] = value
	return out
}
