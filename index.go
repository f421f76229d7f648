// Package blaze is a full-text search indexing engine: typo-tolerant
// term derivation over FSTs, a parallel extractor/merger pipeline into an
// embedded roaring-bitmap-backed KVS, a ranked criteria pipeline, and a
// match/crop/highlight formatter (spec.md C1-C8).
package blaze

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/extract"
	"github.com/blaze-search/blaze/internal/facet"
	"github.com/blaze-search/blaze/internal/ids"
	"github.com/blaze-search/blaze/internal/kvs"
	"github.com/blaze-search/blaze/internal/merge"
	"github.com/blaze-search/blaze/internal/prefixdb"
)

// Index is one opened, embedded search index: the KVS store plus the two
// in-memory identifier spaces (field-id map, external/internal doc-id
// map) every ingestion and search operation needs (spec §3).
type Index struct {
	store *kvs.Store

	// mu serializes AddDocuments calls: bbolt already serializes writes at
	// the store level, but fieldMap/docIDMap are in-memory structures this
	// Index owns exclusively between commits, and a batch mutates them
	// ahead of the write transaction that persists them (internal/document.
	// Stage assigns field/doc ids as it walks a batch).
	mu sync.Mutex

	fieldMap   *ids.FieldMap
	docIDMap   *ids.DocIDMap
	primaryKey string

	cfg IndexingConfig
}

// Open opens (creating if absent) the embedded store at path and
// reconstructs an Index from whatever `main`-bucket bookkeeping already
// exists, falling back to cfg for settings an empty index has not yet
// persisted.
func Open(path string, cfg IndexingConfig) (*Index, error) {
	store, err := kvs.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}

	idx := &Index{store: store, cfg: cfg, primaryKey: cfg.PrimaryKey}

	err = store.View(func(tx *kvs.Tx) error {
		pk, err := tx.GetBytes(kvs.BucketMain, kvs.KeyPrimaryKey)
		if err != nil {
			return err
		}
		if len(pk) > 0 {
			idx.primaryKey = string(pk)
		}

		fmBytes, err := tx.GetBytes(kvs.BucketMain, kvs.KeyFieldsIDsMap)
		if err != nil {
			return err
		}
		fm, err := ids.UnmarshalFieldMap(fmBytes)
		if err != nil {
			return err
		}
		idx.fieldMap = fm

		extFST, err := tx.GetBytes(kvs.BucketMain, kvs.KeyExternalDocumentsIDs)
		if err != nil {
			return err
		}
		nextBytes, err := tx.GetBytes(kvs.BucketMain, kvs.KeyNextInternalID)
		if err != nil {
			return err
		}
		var next uint32
		if len(nextBytes) == 4 {
			next = binary.BigEndian.Uint32(nextBytes)
		}
		dm, err := ids.LoadDocIDMap(extFST, next)
		if err != nil {
			return err
		}
		idx.docIDMap = dm

		return idx.loadPersistedSettings(tx)
	})
	if err != nil {
		_ = store.Close()
		return nil, &Error{Kind: KindKVS, Err: err}
	}

	return idx, nil
}

// Close releases the underlying store handle.
func (idx *Index) Close() error {
	return idx.store.Close()
}

// loadPersistedSettings overrides idx.cfg.Settings with whatever spec
// §6's `main` bucket already has persisted, leaving cfg's defaults in
// place for a brand new index.
func (idx *Index) loadPersistedSettings(tx *kvs.Tx) error {
	if set, ok, err := loadStringSet(tx, kvs.KeyStopWords); err != nil {
		return err
	} else if ok {
		idx.cfg.StopWords = set
	}
	if set, ok, err := loadStringSet(tx, kvs.KeySortableFields); err != nil {
		return err
	} else if ok {
		idx.cfg.SortableFields = set
	}
	if set, ok, err := loadStringSet(tx, kvs.KeyFilterableFields); err != nil {
		return err
	} else if ok {
		idx.cfg.FilterableFields = set
	}
	if set, ok, err := loadStringSet(tx, kvs.KeyExactAttributes); err != nil {
		return err
	} else if ok {
		idx.cfg.ExactAttributes = set
	}
	if raw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyAuthorizeTypos); err != nil {
		return err
	} else if len(raw) == 1 {
		idx.cfg.AuthorizeTypos = raw[0] != 0
	}
	if raw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyDistinctField); err != nil {
		return err
	} else if len(raw) > 0 {
		idx.cfg.DistinctField = string(raw)
	}
	if raw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyCriteria); err != nil {
		return err
	} else if len(raw) > 0 {
		var criteriaNames []string
		if err := json.Unmarshal(raw, &criteriaNames); err != nil {
			return fmt.Errorf("blaze: decoding criteria: %w", err)
		}
		idx.cfg.Criteria = criteriaNames
	}
	return nil
}

// UpdateSettings persists the fields of settings that spec §6's `main`
// bucket names (stop-words, sortable-fields, filterable-fields,
// exact-attributes, authorize-typos, distinct-field, criteria), and
// updates the in-memory config used by subsequent AddDocuments/Search
// calls.
func (idx *Index) UpdateSettings(settings Settings) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	err := idx.store.Update(func(tx *kvs.Tx) error {
		if err := putStringSet(tx, kvs.KeyStopWords, settings.StopWords); err != nil {
			return err
		}
		if err := putStringSet(tx, kvs.KeySortableFields, settings.SortableFields); err != nil {
			return err
		}
		if err := putStringSet(tx, kvs.KeyFilterableFields, settings.FilterableFields); err != nil {
			return err
		}
		if err := putStringSet(tx, kvs.KeyExactAttributes, settings.ExactAttributes); err != nil {
			return err
		}
		authByte := byte(0)
		if settings.AuthorizeTypos {
			authByte = 1
		}
		if err := tx.PutBytes(kvs.BucketMain, kvs.KeyAuthorizeTypos, []byte{authByte}); err != nil {
			return err
		}
		if err := tx.PutBytes(kvs.BucketMain, kvs.KeyDistinctField, []byte(settings.DistinctField)); err != nil {
			return err
		}
		criteriaBytes, err := json.Marshal(settings.Criteria)
		if err != nil {
			return err
		}
		return tx.PutBytes(kvs.BucketMain, kvs.KeyCriteria, criteriaBytes)
	})
	if err != nil {
		return &Error{Kind: KindKVS, Err: err}
	}
	idx.cfg.Settings = settings
	return nil
}

func loadStringSet(tx *kvs.Tx, key string) (map[string]struct{}, bool, error) {
	raw, err := tx.GetBytes(kvs.BucketMain, key)
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, false, fmt.Errorf("blaze: decoding %s: %w", key, err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, true, nil
}

func putStringSet(tx *kvs.Tx, key string, set map[string]struct{}) error {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return err
	}
	return tx.PutBytes(kvs.BucketMain, key, raw)
}

// AddDocuments runs spec C4-C6 plus facet-hierarchy rebuilding over one
// batch: stage every document (primary-key resolution, id assignment),
// extract postings in parallel, merge them into the store under a single
// write transaction, rebuild the prefix databases, then rebuild every
// filterable field's facet hierarchy above level 0.
func (idx *Index) AddDocuments(docs []Document) (*AddDocumentsResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(docs) == 0 {
		return &AddDocumentsResult{FieldDistribution: map[string]int{}}, nil
	}

	if idx.primaryKey == "" {
		pk, err := document.DiscoverPrimaryKey("", docs[0])
		if err != nil {
			return nil, wrapIngestError(err, "")
		}
		idx.primaryKey = pk
	}

	mode := idx.cfg.UpdateMethod.toStageMode()
	staged := make([]document.Staged, 0, len(docs))
	for _, doc := range docs {
		s, err := document.Stage(doc, idx.primaryKey, idx.fieldMap, idx.docIDMap, mode, idx.cfg.AutogenerateDocIDs)
		if err != nil {
			return nil, wrapIngestError(err, "")
		}
		staged = append(staged, s)
	}

	extractCfg := extract.Config{
		SearchableFields:         idx.cfg.SearchableFields,
		ExactAttributes:          idx.cfg.ExactAttributes,
		FilterableFields:         idx.cfg.FilterableFields,
		MaxPositionsPerAttribute: idx.cfg.MaxPositionsPerAttribute,
		ChunkSize:                idx.cfg.DocumentsChunkSize,
		MaxMemory:                idx.cfg.MaxMemory,
	}
	extractCfg.Analyzer.MinTokenLength = idx.cfg.MinTokenLength
	extractCfg.Analyzer.EnableStemming = idx.cfg.EnableStemming
	extractCfg.Analyzer.StopWords = idx.cfg.StopWords

	chunks, errc := extract.Run(staged, extractCfg, idx.fieldMap)

	mergeCfg := merge.Config{
		FieldMap:   idx.fieldMap,
		DocIDMap:   idx.docIDMap,
		PrimaryKey: idx.primaryKey,
		Mode:       mode,
	}
	result, err := merge.Merge(idx.store, staged, chunks, mergeCfg, func(p merge.Progress) {
		slog.Info("merging batch", slog.String("database", p.Database), slog.Int("seen", p.DatabasesSeen), slog.Int("total", p.TotalDatabases))
	})
	if extractErr := <-errc; extractErr != nil {
		return nil, wrapIngestError(extractErr, "")
	}
	if err != nil {
		return nil, wrapIngestError(err, "")
	}

	prefixCfg := prefixdb.Config{
		WordsPrefixThreshold: idx.cfg.WordsPrefixThreshold,
		MaxPrefixLength:      idx.cfg.MaxPrefixLength,
	}
	if _, err := prefixdb.Build(idx.store, prefixCfg, func(p merge.Progress) {
		slog.Info("rebuilding prefix database", slog.String("database", p.Database), slog.Int("seen", p.DatabasesSeen), slog.Int("total", p.TotalDatabases))
	}); err != nil {
		return nil, &Error{Kind: KindKVS, Err: err}
	}

	if err := idx.rebuildFacetHierarchies(); err != nil {
		return nil, &Error{Kind: KindKVS, Err: err}
	}

	slog.Info("indexed batch", slog.Int("documents", result.DocumentsIndexed))
	return &AddDocumentsResult{DocumentsIndexed: result.DocumentsIndexed, FieldDistribution: result.FieldDistribution}, nil
}

func (idx *Index) rebuildFacetHierarchies() error {
	fieldIDs := make([]uint16, 0, len(idx.cfg.FilterableFields))
	for name := range idx.cfg.FilterableFields {
		if id, ok := idx.fieldMap.Lookup(name); ok {
			fieldIDs = append(fieldIDs, id)
		}
	}
	if latID, ok := idx.fieldMap.Lookup("_geo.lat"); ok {
		fieldIDs = append(fieldIDs, latID)
	}
	if lngID, ok := idx.fieldMap.Lookup("_geo.lng"); ok {
		fieldIDs = append(fieldIDs, lngID)
	}
	if len(fieldIDs) == 0 {
		return nil
	}

	facetCfg := facet.Config{GroupSize: idx.cfg.FacetLevelGroupSize, MinLevelSize: idx.cfg.FacetMinLevelSize}
	return idx.store.Update(func(tx *kvs.Tx) error {
		if err := facet.Build(tx, kvs.BucketFacetIDF64Docids, fieldIDs, facetCfg); err != nil {
			return err
		}
		return facet.Build(tx, kvs.BucketFacetIDStringDocids, fieldIDs, facetCfg)
	})
}

// NumberOfDocuments returns the count of currently-indexed documents
// (spec §8 scenario S1's `number_of_documents()`).
func (idx *Index) NumberOfDocuments() (int, error) {
	var n int
	err := idx.store.View(func(tx *kvs.Tx) error {
		bm, err := tx.GetBitmap(kvs.BucketMain, kvs.KeyDocumentsIDs)
		if err != nil {
			return err
		}
		n = int(bm.GetCardinality())
		return nil
	})
	if err != nil {
		return 0, &Error{Kind: KindKVS, Err: err}
	}
	return n, nil
}

func docKey(internal uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], internal)
	return b[:]
}
