package ids

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/blevesearch/vellum"
)

// DocIDMap is the external<->internal document id map (spec §3
// "External id map", persisted as an FST per spec §6
// `external-documents-ids`). Vellum FSTs are immutable once built, so a
// batch's new/updated ids accumulate in an overlay map and are folded
// into a freshly built FST when the batch commits (Rebuild).
type DocIDMap struct {
	fst     *vellum.FST
	pending map[string]uint32
	tomb    map[string]struct{}
	next    uint32
}

// NewDocIDMap returns an empty map with internal ids starting at 0.
func NewDocIDMap() *DocIDMap {
	return &DocIDMap{
		pending: make(map[string]uint32),
		tomb:    make(map[string]struct{}),
	}
}

// LoadDocIDMap reconstructs a map from a previously persisted FST and the
// next free internal id (tracked separately in the `main` database, see
// internal/kvs).
func LoadDocIDMap(fstBytes []byte, next uint32) (*DocIDMap, error) {
	m := NewDocIDMap()
	m.next = next
	if len(fstBytes) == 0 {
		return m, nil
	}
	fst, err := vellum.Load(fstBytes)
	if err != nil {
		return nil, fmt.Errorf("blaze: loading external-documents-ids fst: %w", err)
	}
	m.fst = fst
	return m, nil
}

// Lookup resolves an external id to its internal id, consulting the
// pending overlay before falling back to the persisted FST; tombstoned
// (deleted) externals never resolve even if still present in the FST.
func (m *DocIDMap) Lookup(external string) (uint32, bool) {
	if _, dead := m.tomb[external]; dead {
		return 0, false
	}
	if id, ok := m.pending[external]; ok {
		return id, true
	}
	if m.fst == nil {
		return 0, false
	}
	v, ok, err := m.fst.Get([]byte(external))
	if err != nil || !ok {
		return 0, false
	}
	return uint32(v), true
}

// Assign returns the internal id for external, reusing an existing one if
// present (spec C4 step 3: "reuse if the external id exists, else allocate
// next free 32-bit id").
func (m *DocIDMap) Assign(external string) uint32 {
	if id, ok := m.Lookup(external); ok {
		delete(m.tomb, external)
		return id
	}
	id := m.next
	m.next++
	m.pending[external] = id
	delete(m.tomb, external)
	return id
}

// Delete tombstones external so future Lookups report it absent, and
// returns the internal id it used to map to, if any, so callers can purge
// postings for it (spec §3 invariant: replacing an external id removes
// the old internal id from every postings bitmap it appeared in).
func (m *DocIDMap) Delete(external string) (uint32, bool) {
	id, ok := m.Lookup(external)
	if !ok {
		return 0, false
	}
	delete(m.pending, external)
	m.tomb[external] = struct{}{}
	return id, true
}

// NextInternalID returns the next free 32-bit internal id without
// allocating it, used when persisting `main`'s bookkeeping record.
func (m *DocIDMap) NextInternalID() uint32 {
	return m.next
}

// Rebuild folds the pending overlay and tombstones into a brand-new FST,
// replacing the old one. Must run inside the merger's single write
// transaction (spec §4.5, §5): vellum FSTs require keys inserted in
// sorted order, so every surviving key is gathered, sorted, and
// re-inserted.
func (m *DocIDMap) Rebuild() ([]byte, error) {
	type kv struct {
		key string
		val uint32
	}
	surviving := make(map[string]uint32)

	if m.fst != nil {
		itr, err := m.fst.Iterator(nil, nil)
		for err == nil {
			k, v := itr.Current()
			key := string(k)
			if _, dead := m.tomb[key]; !dead {
				if _, overridden := m.pending[key]; !overridden {
					surviving[key] = uint32(v)
				}
			}
			err = itr.Next()
		}
		if err != nil && err != vellum.ErrIteratorDone {
			return nil, fmt.Errorf("blaze: iterating external-documents-ids fst: %w", err)
		}
	}
	for k, v := range m.pending {
		if _, dead := m.tomb[k]; !dead {
			surviving[k] = v
		}
	}

	entries := make([]kv, 0, len(surviving))
	for k, v := range surviving {
		entries = append(entries, kv{k, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, fmt.Errorf("blaze: creating external-documents-ids builder: %w", err)
	}
	for _, e := range entries {
		if err := builder.Insert([]byte(e.key), uint64(e.val)); err != nil {
			return nil, fmt.Errorf("blaze: inserting %q into external-documents-ids: %w", e.key, err)
		}
	}
	if err := builder.Close(); err != nil {
		return nil, fmt.Errorf("blaze: closing external-documents-ids builder: %w", err)
	}

	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("blaze: reloading external-documents-ids fst: %w", err)
	}
	m.fst = fst
	m.pending = make(map[string]uint32)
	m.tomb = make(map[string]struct{})
	return buf.Bytes(), nil
}
