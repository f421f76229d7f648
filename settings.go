package blaze

import (
	"github.com/blaze-search/blaze/internal/document"
)

// UpdateMethod selects spec C4's two ingestion semantics.
type UpdateMethod int

const (
	ReplaceDocuments UpdateMethod = iota
	UpdateDocuments
)

func (m UpdateMethod) toStageMode() document.Mode {
	if m == UpdateDocuments {
		return document.Update
	}
	return document.Replace
}

// Settings is the subset of index configuration spec §6's `main` bucket
// persists (`stop-words`, `sortable-fields`, `filterable-fields`,
// `exact-attributes`, `authorize-typos`, `distinct-field`, `criteria`),
// surviving across process restarts.
type Settings struct {
	StopWords        map[string]struct{}
	SortableFields   map[string]struct{}
	FilterableFields map[string]struct{}
	ExactAttributes  map[string]struct{}
	AuthorizeTypos   bool
	DistinctField    string
	// Criteria is the configured ranking-rule order, spec §4.7's
	// "Words, Typo, Proximity, Attribute, Sort, Exactness, Asc(field),
	// Desc(field)". Asc/Desc members only apply when named in a search
	// request's SortCriteria; the entries here are just "Sort"'s position
	// relative to the other rules.
	Criteria []string
}

// DefaultSettings mirrors milli's default ranking-rule order and
// authorize_typos=true.
func DefaultSettings() Settings {
	return Settings{
		StopWords:        map[string]struct{}{},
		SortableFields:   map[string]struct{}{},
		FilterableFields: map[string]struct{}{},
		ExactAttributes:  map[string]struct{}{},
		AuthorizeTypos:   true,
		Criteria:         []string{"Words", "Typo", "Proximity", "Attribute", "Sort", "Exactness"},
	}
}

// IndexingConfig is the full set of options spec §6's "Configuration"
// section names: Settings (persisted) plus the process-level knobs
// governing one ingestion run (sorter bounds, prefix-tree fan-out,
// facet-tree fan-out, spill compression). These are not persisted to the
// `main` bucket - they describe how THIS process indexes, not what the
// index IS, matching the teacher's DefaultConfig()/DefaultBM25Parameters()
// split between tunable runtime knobs and stored index state.
type IndexingConfig struct {
	Settings

	PrimaryKey         string
	UpdateMethod       UpdateMethod
	AutogenerateDocIDs bool

	SearchableFields map[string]struct{}

	WordsPrefixThreshold uint32
	MaxPrefixLength      int

	FacetLevelGroupSize int
	FacetMinLevelSize   int

	// WordsPositionsLevelGroupSize/MinLevelSize name spec §6's position-tree
	// fan-out options. This implementation keeps word-position-docids flat
	// (matching spec §6's KVS layout, which lists no leveled position
	// bucket the way it does for facets), so these are accepted for
	// configuration-surface completeness but currently unused - see
	// DESIGN.md.
	WordsPositionsLevelGroupSize int
	WordsPositionsMinLevelSize   int

	MaxMemory          int64
	MaxNbChunks        int
	DocumentsChunkSize int

	ChunkCompressionType  string
	ChunkCompressionLevel int

	MaxPositionsPerAttribute int

	MinTokenLength int
	EnableStemming bool
}

// DefaultIndexingConfig mirrors milli's defaults for every option named in
// spec §6, matching the per-package DefaultConfig() constructors this
// configuration is translated into (internal/extract, internal/prefixdb,
// internal/facet, internal/query).
func DefaultIndexingConfig() IndexingConfig {
	return IndexingConfig{
		Settings:                 DefaultSettings(),
		UpdateMethod:             ReplaceDocuments,
		AutogenerateDocIDs:       false,
		SearchableFields:         map[string]struct{}{},
		WordsPrefixThreshold:     100,
		MaxPrefixLength:          4,
		FacetLevelGroupSize:      4,
		FacetMinLevelSize:        5,
		MaxMemory:                64 << 20,
		DocumentsChunkSize:       500,
		ChunkCompressionType:     "zstd",
		ChunkCompressionLevel:    3,
		MaxPositionsPerAttribute: 1000,
		MinTokenLength:           1,
		EnableStemming:           true,
	}
}

// SortDirection is one AscDesc member's direction.
type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

// GeoPoint is a _geoRadius/_geo-sort reference point.
type GeoPoint struct {
	Lat, Lng float64
}

// AscDesc is one member of a search request's sort_criteria (spec §6).
// Field must be in the index's sortable_fields, or be "_geo" with Geo set.
type AscDesc struct {
	Field     string
	Direction SortDirection
	Geo       *GeoPoint
}

// SearchRequest is spec §6's "Search input".
type SearchRequest struct {
	Query          string
	Filter         string
	Offset         int
	Limit          int
	SortCriteria   []AscDesc
	OptionalWords  bool
	AuthorizeTypos bool
	WordsLimit     int

	// Highlight/Crop drive C8's formatter. Crop is a token-count window
	// size; 0 disables cropping.
	Highlight bool
	Crop      int
}

// DefaultSearchRequest mirrors spec §6's documented defaults
// (optional_words/authorize_typos: true, words_limit: 10) for a query
// with no filter, offset 0, and a typical page size.
func DefaultSearchRequest(query string) SearchRequest {
	return SearchRequest{
		Query:          query,
		Limit:          20,
		OptionalWords:  true,
		AuthorizeTypos: true,
		WordsLimit:     10,
	}
}
