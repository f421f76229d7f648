package sortrun

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Sorter is the external merge sorter described in spec §4.3: it
// accumulates (key, value) pairs in an in-memory SkipList, combining
// duplicate keys as they arrive, and spills to a zstd-compressed sorted
// run on disk once MaxMemory bytes have accumulated. Finalize performs a
// k-way merge across every spilled run plus whatever remains in memory,
// combining duplicate keys across run boundaries too.
type Sorter struct {
	MaxMemory int64
	TmpDir    string
	Combine   Combiner

	current      *SkipList
	currentBytes int64
	runPaths     []string
}

// NewSorter returns a sorter that spills once its in-memory run exceeds
// maxMemory bytes (spec "max_memory" setting), combining values for a
// repeated key with combine.
func NewSorter(maxMemory int64, combine Combiner) *Sorter {
	return &Sorter{
		MaxMemory: maxMemory,
		Combine:   combine,
		current:   New(),
	}
}

// Add inserts (key, value), spilling the current in-memory run to disk
// first if MaxMemory has been reached.
func (s *Sorter) Add(key, value []byte) error {
	s.current.Upsert(key, value, s.Combine)
	s.currentBytes += int64(len(key) + len(value))
	if s.MaxMemory > 0 && s.currentBytes >= s.MaxMemory {
		return s.spill()
	}
	return nil
}

func (s *Sorter) spill() error {
	if s.current.Len() == 0 {
		return nil
	}
	f, err := os.CreateTemp(s.TmpDir, "blaze-sortrun-*.zst")
	if err != nil {
		return fmt.Errorf("blaze: creating spill file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("blaze: creating zstd writer: %w", err)
	}

	var writeErr error
	s.current.Iterate(func(key, value []byte) bool {
		writeErr = writeEntry(zw, key, value)
		return writeErr == nil
	})
	if writeErr != nil {
		zw.Close()
		return fmt.Errorf("blaze: writing spill entry: %w", writeErr)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("blaze: closing zstd writer: %w", err)
	}

	s.runPaths = append(s.runPaths, f.Name())
	s.current = New()
	s.currentBytes = 0
	return nil
}

func writeEntry(w io.Writer, key, value []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(key)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	n = binary.PutUvarint(lenBuf[:], uint64(len(value)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// Finalize streams every surviving (key, value) pair, in ascending key
// order and with duplicate keys across run boundaries combined, to fn.
// It removes its own temp files (spilled runs) once done, regardless of
// outcome.
func (s *Sorter) Finalize(fn func(key, value []byte) error) error {
	defer s.cleanup()

	sources := make([]*runSource, 0, len(s.runPaths)+1)
	for _, path := range s.runPaths {
		rs, err := newRunSource(path)
		if err != nil {
			return err
		}
		sources = append(sources, rs)
	}
	defer func() {
		for _, rs := range sources {
			rs.close()
		}
	}()

	// The remaining in-memory run participates as one more source.
	var memEntries []entry
	s.current.Iterate(func(key, value []byte) bool {
		memEntries = append(memEntries, entry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
		return true
	})
	memSource := &sliceSource{entries: memEntries}

	h := &mergeHeap{}
	heap.Init(h)
	for i, rs := range sources {
		if e, ok, err := rs.next(); err != nil {
			return err
		} else if ok {
			heap.Push(h, heapItem{entry: e, sourceIdx: i, sources: sources})
		}
	}
	if e, ok := memSource.pop(); ok {
		heap.Push(h, heapItem{entry: e, sourceIdx: -1, memSource: memSource})
	}

	var pending *entry
	for h.Len() > 0 {
		item := heap.Pop(h).(heapItem)
		cur := item.entry

		if item.sourceIdx >= 0 {
			if next, ok, err := sources[item.sourceIdx].next(); err != nil {
				return err
			} else if ok {
				heap.Push(h, heapItem{entry: next, sourceIdx: item.sourceIdx, sources: sources})
			}
		} else {
			if next, ok := memSource.pop(); ok {
				heap.Push(h, heapItem{entry: next, sourceIdx: -1, memSource: memSource})
			}
		}

		if pending == nil {
			pending = &cur
			continue
		}
		if string(pending.key) == string(cur.key) {
			if s.Combine != nil {
				pending.value = s.Combine(pending.value, cur.value)
			} else {
				pending.value = cur.value
			}
			continue
		}
		if err := fn(pending.key, pending.value); err != nil {
			return err
		}
		pending = &cur
	}
	if pending != nil {
		if err := fn(pending.key, pending.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sorter) cleanup() {
	for _, path := range s.runPaths {
		_ = os.Remove(path)
	}
	s.runPaths = nil
}

type entry struct {
	key   []byte
	value []byte
}

type runSource struct {
	f  *os.File
	r  *zstd.Decoder
	br *bufio.Reader
}

func newRunSource(path string) (*runSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blaze: opening spill run %s: %w", path, err)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blaze: opening zstd reader for %s: %w", path, err)
	}
	return &runSource{f: f, r: dec, br: bufio.NewReader(dec)}, nil
}

func (rs *runSource) next() (entry, bool, error) {
	keyLen, err := binary.ReadUvarint(rs.br)
	if err == io.EOF {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("blaze: reading spill run key length: %w", err)
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(rs.br, key); err != nil {
		return entry{}, false, fmt.Errorf("blaze: reading spill run key: %w", err)
	}
	valLen, err := binary.ReadUvarint(rs.br)
	if err != nil {
		return entry{}, false, fmt.Errorf("blaze: reading spill run value length: %w", err)
	}
	value := make([]byte, valLen)
	if _, err := io.ReadFull(rs.br, value); err != nil {
		return entry{}, false, fmt.Errorf("blaze: reading spill run value: %w", err)
	}
	return entry{key: key, value: value}, true, nil
}

func (rs *runSource) close() {
	rs.r.Close()
	rs.f.Close()
}

type sliceSource struct {
	entries []entry
	pos     int
}

func (s *sliceSource) pop() (entry, bool) {
	if s.pos >= len(s.entries) {
		return entry{}, false
	}
	e := s.entries[s.pos]
	s.pos++
	return e, true
}

type heapItem struct {
	entry     entry
	sourceIdx int // -1 means the in-memory source
	sources   []*runSource
	memSource *sliceSource
}

type mergeHeap []heapItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	return string(h[i].entry.key) < string(h[j].entry.key)
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
