package blaze

import "github.com/blaze-search/blaze/internal/document"

// Document is the public field-name -> value mapping callers index and
// retrieve (spec §3). It is internal/document.Document verbatim: a plain
// map, since the engine never needs to distinguish the public and
// internal shapes of an undecoded document.
type Document = document.Document

// Hit is one search result: the stored document plus, when requested, the
// formatted (cropped/highlighted) view of its matched fields (spec C8).
type Hit struct {
	Document  Document
	Formatted Document
}

// SearchResult is the outcome of Index.Search.
type SearchResult struct {
	Hits               []Hit
	EstimatedTotalHits int
}

// AddDocumentsResult summarizes one Index.AddDocuments call (spec §4.5's
// per-batch task summary).
type AddDocumentsResult struct {
	DocumentsIndexed  int
	FieldDistribution map[string]int
}
