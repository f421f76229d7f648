package blaze

import (
	"path/filepath"
	"testing"
)

func openIndex(t *testing.T, cfg IndexingConfig) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "blaze.db"), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testConfig() IndexingConfig {
	cfg := DefaultIndexingConfig()
	cfg.PrimaryKey = "id"
	cfg.FilterableFields = map[string]struct{}{"genre": {}, "year": {}}
	cfg.SortableFields = map[string]struct{}{"year": {}}
	return cfg
}

func TestAddDocumentsIndexesAndCountsDistribution(t *testing.T) {
	idx := openIndex(t, testConfig())

	result, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "the matrix", "genre": "scifi", "year": float64(1999)},
		{"id": "2", "title": "the matrix reloaded", "genre": "scifi", "year": float64(2003)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.DocumentsIndexed != 2 {
		t.Fatalf("documents indexed = %d, want 2", result.DocumentsIndexed)
	}
	if result.FieldDistribution["title"] != 2 {
		t.Fatalf("title distribution = %d, want 2", result.FieldDistribution["title"])
	}

	n, err := idx.NumberOfDocuments()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("number_of_documents = %d, want 2", n)
	}
}

func TestSearchFindsMatchingDocuments(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "the matrix", "genre": "scifi", "year": float64(1999)},
		{"id": "2", "title": "the notebook", "genre": "romance", "year": float64(2004)},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("matrix")
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(res.Hits))
	}
	if res.Hits[0].Document["id"] != "1" {
		t.Fatalf("hit id = %v, want 1", res.Hits[0].Document["id"])
	}
}

func TestSearchToleratesOneTypo(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "hello world"},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("hallo")
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("got %d hits for a one-typo query, want 1", len(res.Hits))
	}
}

func TestSearchWithFilterNarrowsResults(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "the matrix", "genre": "scifi", "year": float64(1999)},
		{"id": "2", "title": "the matrix reloaded", "genre": "scifi", "year": float64(2003)},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("matrix")
	req.Filter = `year > 2000`
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Document["id"] != "2" {
		t.Fatalf("filtered search = %+v, want only document 2", res.Hits)
	}
}

func TestSearchRejectsFilterOnNonFilterableField(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{{"id": "1", "title": "a", "secret": "x"}})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("a")
	req.Filter = `secret = x`
	if _, err := idx.Search(req); err == nil {
		t.Fatal("expected an InvalidFilter error for a non-filterable field")
	} else if be, ok := err.(*Error); !ok || be.Kind != KindInvalidFilter {
		t.Fatalf("got error %v, want Kind=InvalidFilter", err)
	}
}

func TestSearchRejectsSortOnNonSortableField(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{{"id": "1", "title": "a", "year": float64(2000)}})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("a")
	req.SortCriteria = []AscDesc{{Field: "title", Direction: Asc}}
	if _, err := idx.Search(req); err == nil {
		t.Fatal("expected an InvalidSortableAttribute error")
	} else if be, ok := err.(*Error); !ok || be.Kind != KindInvalidSortableAttribute {
		t.Fatalf("got error %v, want Kind=InvalidSortableAttribute", err)
	}
}

func TestSearchSortsByConfiguredField(t *testing.T) {
	cfg := testConfig()
	cfg.Criteria = []string{"Words", "Sort", "Exactness"}
	idx := openIndex(t, cfg)
	_, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "movie", "year": float64(2010)},
		{"id": "2", "title": "movie", "year": float64(1990)},
		{"id": "3", "title": "movie", "year": float64(2000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("movie")
	req.SortCriteria = []AscDesc{{Field: "year", Direction: Desc}}
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(res.Hits))
	}
	got := []any{res.Hits[0].Document["id"], res.Hits[1].Document["id"], res.Hits[2].Document["id"]}
	want := []any{"1", "3", "2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted ids = %v, want %v", got, want)
		}
	}
}

func TestSearchHighlightsMatchedTerms(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{{"id": "1", "title": "hello world"}})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("hello")
	req.Highlight = true
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(res.Hits))
	}
	formatted, _ := res.Hits[0].Formatted["title"].(string)
	if formatted == "" {
		t.Fatal("expected a formatted title")
	}
}

func TestUpdateSettingsPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blaze.db")
	cfg := testConfig()

	idx, err := Open(path, cfg)
	if err != nil {
		t.Fatal(err)
	}
	settings := idx.cfg.Settings
	settings.DistinctField = "genre"
	if err := idx.UpdateSettings(settings); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, DefaultIndexingConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.cfg.DistinctField != "genre" {
		t.Fatalf("distinct field after reopen = %q, want %q", reopened.cfg.DistinctField, "genre")
	}
}

func TestSearchEmptyQueryMatchesAllFilteredCandidates(t *testing.T) {
	idx := openIndex(t, testConfig())
	_, err := idx.AddDocuments([]Document{
		{"id": "1", "title": "a", "genre": "scifi"},
		{"id": "2", "title": "b", "genre": "romance"},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := DefaultSearchRequest("")
	req.Filter = `genre = scifi`
	res, err := idx.Search(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Document["id"] != "1" {
		t.Fatalf("empty-query filtered search = %+v, want only document 1", res.Hits)
	}
}
