package blaze

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/blaze-search/blaze/internal/analyzer"
	"github.com/blaze-search/blaze/internal/criteria"
	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/fstx"
	"github.com/blaze-search/blaze/internal/ids"
	"github.com/blaze-search/blaze/internal/kvs"
	"github.com/blaze-search/blaze/internal/matcher"
	"github.com/blaze-search/blaze/internal/query"
)

// Search runs spec C2 (query-tree building), C1 (typo-tolerant term
// derivation against the words FST), C7 (the ranked criteria pipeline)
// and C8 (match formatting) over one request.
func (idx *Index) Search(req SearchRequest) (*SearchResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := criteria.ValidateSortCriterion(idx.cfg.Criteria, len(req.SortCriteria) > 0); err != nil {
		return nil, wrapSearchError(err)
	}
	for _, asc := range req.SortCriteria {
		if asc.Geo != nil {
			continue
		}
		if _, ok := idx.cfg.SortableFields[asc.Field]; !ok {
			return nil, wrapSearchError(fmt.Errorf("%w: field %q is not sortable", errInvalidSortableAttribute, asc.Field))
		}
	}

	var result SearchResult
	err := idx.store.View(func(tx *kvs.Tx) error {
		allDocIDs, err := tx.GetBitmap(kvs.BucketMain, kvs.KeyDocumentsIDs)
		if err != nil {
			return err
		}

		candidates := allDocIDs
		if strings.TrimSpace(req.Filter) != "" {
			candidates, err = evaluateFilter(tx, idx.fieldMap, idx.cfg.FilterableFields, req.Filter, allDocIDs)
			if err != nil {
				return err
			}
		}

		fstRaw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyWordsFST)
		if err != nil {
			return err
		}
		var cache *fstx.Cache
		if len(fstRaw) > 0 {
			fst, err := fstx.Load(fstRaw)
			if err != nil {
				return err
			}
			cache = fstx.NewCache(fst)
		}

		queryCfg := query.Config{
			StopWords:      idx.cfg.StopWords,
			WordsLimit:     req.WordsLimit,
			OptionalWords:  req.OptionalWords,
			AuthorizeTypos: idx.cfg.AuthorizeTypos,
			Analyzer: analyzer.Config{
				MinTokenLength: idx.cfg.MinTokenLength,
				EnableStemming: idx.cfg.EnableStemming,
				StopWords:      idx.cfg.StopWords,
			},
		}
		tree := query.Build(req.Query, queryCfg, req.AuthorizeTypos)

		tier0 := roaring.New()
		tier1 := roaring.New()
		typoDist := make(map[uint32]int)

		if strings.TrimSpace(req.Query) == "" {
			tier0.Or(candidates)
		} else {
			for _, interp := range tree.Interpretations {
				bm, dist, err := interpretationBitmap(tx, cache, interp, candidates)
				if err != nil {
					return err
				}
				if interpretationHasOptional(interp) {
					tier1.Or(bm)
				} else {
					tier0.Or(bm)
				}
				it := bm.Iterator()
				for it.HasNext() {
					id := it.Next()
					if d, ok := typoDist[id]; !ok || dist[id] < d {
						typoDist[id] = dist[id]
					}
				}
			}
		}

		// Proximity/Attribute/Exactness rank against the literal
		// interpretation's mandatory words: the first interpretation in
		// the tree is always the unmodified phrase (query.Build's
		// ordering), so it is the representative word set for documents
		// that satisfy any interpretation.
		var rankWords []query.WordMatch
		if len(tree.Interpretations) > 0 {
			for _, w := range tree.Interpretations[0].Words {
				if !w.Optional {
					rankWords = append(rankWords, w)
				}
			}
		}

		var top criteria.Criterion = criteria.NewWordsCriterion([]*roaring.Bitmap{tier0, tier1})
		for _, name := range idx.cfg.Criteria {
			switch name {
			case "Typo":
				top = criteria.NewRankCriterion(top, typoRankFunc(typoDist), false)
			case "Proximity":
				top = criteria.NewRankCriterion(top, proximityRankFunc(tx, rankWords), false)
			case "Attribute":
				top = criteria.NewRankCriterion(top, attributeRankFunc(tx, rankWords), false)
			case "Exactness":
				top = criteria.NewRankCriterion(top, exactnessRankFunc(tx, rankWords), false)
			case "Sort":
				for _, asc := range req.SortCriteria {
					rf, err := sortRankFunc(tx, idx.fieldMap, asc)
					if err != nil {
						return err
					}
					top = criteria.NewRankCriterion(top, rf, asc.Direction == Desc)
				}
			}
		}

		var distinct criteria.Distinct = criteria.NoopDistinct{}
		if idx.cfg.DistinctField != "" {
			distinct = criteria.NewFacetDistinct(func(id uint32) (string, bool) {
				doc, err := idx.loadDocument(tx, id)
				if err != nil {
					return "", false
				}
				v, ok := document.Lookup(doc, idx.cfg.DistinctField)
				if !ok {
					return "", false
				}
				return document.CanonicalString(v)
			})
		}

		limit := req.Limit
		if limit <= 0 {
			limit = 20
		}
		resultIDs, err := criteria.Retrieve(top, distinct, req.Offset, limit)
		if err != nil {
			return err
		}

		matchWords := collectMatchingWords(tree)

		hits := make([]Hit, 0, len(resultIDs))
		for _, id := range resultIDs {
			doc, err := idx.loadDocument(tx, id)
			if err != nil {
				return err
			}
			hit := Hit{Document: doc}
			if req.Highlight || req.Crop > 0 {
				formatted := make(Document, len(doc))
				for field, value := range doc {
					s, ok := value.(string)
					if !ok {
						continue
					}
					formatted[field] = matcher.Format(s, matchWords, matcher.FormatOptions{Highlight: req.Highlight, Crop: req.Crop})
				}
				hit.Formatted = formatted
			}
			hits = append(hits, hit)
		}

		result = SearchResult{
			Hits:               hits,
			EstimatedTotalHits: int(tier0.GetCardinality() + tier1.GetCardinality()),
		}
		return nil
	})
	if err != nil {
		return nil, wrapSearchError(err)
	}
	return &result, nil
}

func interpretationHasOptional(interp query.Interpretation) bool {
	for _, w := range interp.Words {
		if w.Optional {
			return true
		}
	}
	return false
}

// interpretationBitmap intersects universe with the AND of every
// mandatory word's derived-term bitmap, accumulating each surviving
// document's summed typo distance across those words.
func interpretationBitmap(tx *kvs.Tx, cache *fstx.Cache, interp query.Interpretation, universe *roaring.Bitmap) (*roaring.Bitmap, map[uint32]int, error) {
	acc := universe.Clone()
	total := make(map[uint32]int)
	mandatory := false
	for _, wm := range interp.Words {
		if wm.Optional {
			continue
		}
		mandatory = true
		bm, dist, err := wordBitmapAndDistance(tx, cache, wm)
		if err != nil {
			return nil, nil, err
		}
		acc.And(bm)
		for id, d := range dist {
			total[id] += d
		}
	}
	if !mandatory {
		return roaring.New(), total, nil
	}
	return acc, total, nil
}

// wordBitmapAndDistance derives every candidate term for wm (spec C1)
// and unions their word-docids postings, recording each surviving
// document's minimum derivation distance.
func wordBitmapAndDistance(tx *kvs.Tx, cache *fstx.Cache, wm query.WordMatch) (*roaring.Bitmap, map[uint32]int, error) {
	result := roaring.New()
	dist := make(map[uint32]int)
	if cache == nil {
		return result, dist, nil
	}
	matches, err := cache.Derive(wm.Term, wm.IsPrefix, wm.TypoBudget)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range matches {
		bm, err := tx.GetBitmap(kvs.BucketWordDocids, m.Term)
		if err != nil {
			return nil, nil, err
		}
		it := bm.Iterator()
		for it.HasNext() {
			id := it.Next()
			if d, ok := dist[id]; !ok || m.Distance < d {
				dist[id] = m.Distance
			}
		}
		result.Or(bm)
	}
	return result, dist, nil
}

func typoRankFunc(dist map[uint32]int) func(uint32) int {
	return func(id uint32) int {
		return dist[id]
	}
}

// proximityRankFunc ranks by the minimum word-pair proximity (spec §4.7
// Proximity) across every adjacent pair of mandatory words in words,
// using the literal (pre-derivation) terms directly - the same
// simplification Attribute/Exactness below make, since which derived
// term matched a given document is not tracked past the bitmap union.
func proximityRankFunc(tx *kvs.Tx, words []query.WordMatch) func(uint32) int {
	const worseThanAny = 8
	best := make(map[uint32]int)
	for i := 0; i+1 < len(words); i++ {
		w1, w2 := words[i].Term, words[i+1].Term
		for prox := 1; prox <= 7; prox++ {
			bm, err := tx.GetBitmap(kvs.BucketWordPairProximityDocids, string(kvs.WordPairProximityKey(w1, w2, prox)))
			if err != nil || bm.IsEmpty() {
				continue
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				if d, ok := best[id]; !ok || prox < d {
					best[id] = prox
				}
			}
		}
	}
	return func(id uint32) int {
		if d, ok := best[id]; ok {
			return d
		}
		return worseThanAny
	}
}

// attributeRankFunc ranks by the lowest field id any mandatory word was
// matched in (spec §4.7 Attribute: earlier-declared fields rank better),
// decoded from word-position-docids' packed position codes.
func attributeRankFunc(tx *kvs.Tx, words []query.WordMatch) func(uint32) int {
	const noMatch = int(^uint16(0)) + 1
	best := make(map[uint32]uint16)
	for _, w := range words {
		prefix := append([]byte(w.Term), 0)
		_ = tx.ForEachKey(kvs.BucketWordPositionDocids, func(k, v []byte) error {
			if !hasPrefix(k, prefix) || len(k) < len(prefix)+4 {
				return nil
			}
			code := binary.BigEndian.Uint32(k[len(prefix):])
			fieldID, _ := kvs.DecodePositionCode(code)
			bm := roaring.New()
			if len(v) > 0 {
				if _, err := bm.FromBuffer(v); err != nil {
					return nil
				}
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				if cur, ok := best[id]; !ok || fieldID < cur {
					best[id] = fieldID
				}
			}
			return nil
		})
	}
	return func(id uint32) int {
		if f, ok := best[id]; ok {
			return int(f)
		}
		return noMatch
	}
}

// exactnessRankFunc ranks documents carrying any mandatory word as an
// exact (unstemmed, whole-word) match ahead of ones that only matched
// via typo or prefix derivation (spec §4.7 Exactness).
func exactnessRankFunc(tx *kvs.Tx, words []query.WordMatch) func(uint32) int {
	exact := roaring.New()
	for _, w := range words {
		if bm, err := tx.GetBitmap(kvs.BucketExactWordDocids, w.Term); err == nil {
			exact.Or(bm)
		}
	}
	return func(id uint32) int {
		if exact.Contains(id) {
			return 0
		}
		return 1
	}
}

// sortRankFunc implements spec §4.7's Sort(field)/Asc/Desc rule: rank is
// the document's index position among distinct ascending-ordered facet
// values for field, which - because both facet key encodings are
// designed to sort bytewise in value order (internal/kvs/keys.go) -
// equals the order facet-id-*-docids' level-0 keys are already stored
// in. A geo sort instead ranks by distance from the reference point.
func sortRankFunc(tx *kvs.Tx, fm *ids.FieldMap, asc AscDesc) (func(uint32) int, error) {
	if asc.Geo != nil {
		latID, okLat := fm.Lookup("_geo.lat")
		lngID, okLng := fm.Lookup("_geo.lng")
		if !okLat || !okLng {
			return func(uint32) int { return 0 }, nil
		}
		lats, err := loadFacetNumberValues(tx, latID)
		if err != nil {
			return nil, err
		}
		lngs, err := loadFacetNumberValues(tx, lngID)
		if err != nil {
			return nil, err
		}
		return func(id uint32) int {
			lat, ok1 := lats[id]
			lng, ok2 := lngs[id]
			if !ok1 || !ok2 {
				return int(^uint32(0) >> 1)
			}
			return int(haversineMeters(asc.Geo.Lat, asc.Geo.Lng, lat, lng))
		}, nil
	}

	fieldID, ok := fm.Lookup(asc.Field)
	if !ok {
		return func(uint32) int { return 0 }, nil
	}

	rankByDoc := make(map[uint32]int)
	idx := 0
	prefix := fieldLevel0Prefix(fieldID)
	sawAny := false
	walk := func(bucket string) error {
		return tx.ForEachKey(bucket, func(k, v []byte) error {
			if !hasPrefix(k, prefix) {
				return nil
			}
			sawAny = true
			bm := roaring.New()
			if len(v) > 0 {
				if _, err := bm.FromBuffer(v); err != nil {
					return err
				}
			}
			it := bm.Iterator()
			for it.HasNext() {
				rankByDoc[it.Next()] = idx
			}
			idx++
			return nil
		})
	}
	if err := walk(kvs.BucketFacetIDF64Docids); err != nil {
		return nil, err
	}
	if !sawAny {
		if err := walk(kvs.BucketFacetIDStringDocids); err != nil {
			return nil, err
		}
	}

	return func(id uint32) int {
		if r, ok := rankByDoc[id]; ok {
			return r
		}
		return idx
	}, nil
}

// collectMatchingWords flattens every interpretation's word matchers
// into the deduplicated MatchingWord set C8's formatter tests document
// tokens against, since matchToken already re-derives fuzzy distance
// against each matcher's own term (spec §4.8).
func collectMatchingWords(tree *query.Tree) []matcher.MatchingWord {
	seen := make(map[string]struct{})
	var out []matcher.MatchingWord
	for _, interp := range tree.Interpretations {
		for _, w := range interp.Words {
			if _, dup := seen[w.Term]; dup {
				continue
			}
			seen[w.Term] = struct{}{}
			out = append(out, matcher.MatchingWord{Term: w.Term, TypoBudget: w.TypoBudget, IsPrefix: w.IsPrefix, GroupID: w.GroupID})
		}
	}
	return out
}

func (idx *Index) loadDocument(tx *kvs.Tx, internal uint32) (Document, error) {
	raw, err := tx.GetBytes(kvs.BucketDocuments, string(docKey(internal)))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("blaze: decoding document %d: %w", internal, err)
	}
	return doc, nil
}
