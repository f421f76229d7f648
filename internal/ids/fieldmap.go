// Package ids maintains the two identifier spaces the indexing pipeline
// depends on: the bidirectional field-name<->field-id map (16-bit,
// capacity bounded per spec §3) and the external<->internal document id
// map (persisted as an FST per spec §3/§6).
package ids

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFieldID is the largest field id a 16-bit field-id space can hold.
const MaxFieldID = 1<<16 - 1

// ErrAttributeLimitReached is returned when a new field name would exceed
// the 16-bit field-id space (spec §3, §7).
var ErrAttributeLimitReached = errors.New("blaze: attribute limit reached")

// FieldMap is a bidirectional name<->id table. Names are dotted paths for
// nested objects and flattened array indices (spec §3); the map itself
// treats them as opaque strings, flattening happens one layer up in
// internal/document.
type FieldMap struct {
	nameToID map[string]uint16
	idToName map[uint16]string
	next     uint16
}

// New returns an empty field-id map.
func New() *FieldMap {
	return &FieldMap{
		nameToID: make(map[string]uint16),
		idToName: make(map[uint16]string),
	}
}

// ID returns the id for name, creating one if name is unseen. Returns
// ErrAttributeLimitReached once the 16-bit space is exhausted.
func (m *FieldMap) ID(name string) (uint16, error) {
	if id, ok := m.nameToID[name]; ok {
		return id, nil
	}
	if int(m.next) > MaxFieldID || (m.next == 0 && len(m.nameToID) > 0) {
		return 0, fmt.Errorf("%w: cannot add field %q", ErrAttributeLimitReached, name)
	}
	id := m.next
	m.next++
	m.nameToID[name] = id
	m.idToName[id] = name
	return id, nil
}

// Lookup returns the id already assigned to name without creating one.
func (m *FieldMap) Lookup(name string) (uint16, bool) {
	id, ok := m.nameToID[name]
	return id, ok
}

// Name returns the field name for id.
func (m *FieldMap) Name(id uint16) (string, bool) {
	name, ok := m.idToName[id]
	return name, ok
}

// Len returns the number of distinct fields registered.
func (m *FieldMap) Len() int {
	return len(m.nameToID)
}

// Names returns every registered field name. Order is unspecified.
func (m *FieldMap) Names() []string {
	out := make([]string, 0, len(m.nameToID))
	for name := range m.nameToID {
		out = append(out, name)
	}
	return out
}

// fieldMapSnapshot is FieldMap's on-disk form, persisted at the `main`
// database's `fields-ids-map` key (spec §6).
type fieldMapSnapshot struct {
	NameToID map[string]uint16 `json:"name_to_id"`
	Next     uint16            `json:"next"`
}

// MarshalFieldMap encodes m for storage in the `main` database.
func MarshalFieldMap(m *FieldMap) ([]byte, error) {
	return json.Marshal(fieldMapSnapshot{NameToID: m.nameToID, Next: m.next})
}

// UnmarshalFieldMap reconstructs a FieldMap previously written by
// MarshalFieldMap. Empty input yields an empty map.
func UnmarshalFieldMap(data []byte) (*FieldMap, error) {
	if len(data) == 0 {
		return New(), nil
	}
	var snap fieldMapSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("blaze: decoding fields-ids-map: %w", err)
	}
	m := New()
	m.nameToID = snap.NameToID
	m.idToName = make(map[uint16]string, len(snap.NameToID))
	for name, id := range snap.NameToID {
		m.idToName[id] = name
	}
	m.next = snap.Next
	return m, nil
}
