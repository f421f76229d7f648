package extract

import (
	"testing"

	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/ids"
	"github.com/blaze-search/blaze/internal/kvs"
)

func stageDoc(t *testing.T, fm *ids.FieldMap, dm *ids.DocIDMap, doc document.Document) document.Staged {
	t.Helper()
	staged, err := document.Stage(doc, "id", fm, dm, document.Replace, false)
	if err != nil {
		t.Fatal(err)
	}
	return staged
}

func TestRunEmitsWordAndDocumentChunks(t *testing.T) {
	fm := ids.New()
	dm := ids.NewDocIDMap()
	staged := stageDoc(t, fm, dm, document.Document{"id": "1", "title": "the quick brown fox"})

	cfg := DefaultConfig()
	cfg.ChunkSize = 10
	out, errc := Run([]document.Staged{staged}, cfg, fm)

	var sawWord, sawDoc bool
	for c := range out {
		switch c.Kind {
		case KindWordDocids:
			sawWord = true
		case KindDocument:
			sawDoc = true
		}
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatal(err)
		}
	default:
	}
	if !sawWord {
		t.Fatal("expected at least one word-docids chunk")
	}
	if !sawDoc {
		t.Fatal("expected a document chunk")
	}
}

func TestRunFacetsFilterableFields(t *testing.T) {
	fm := ids.New()
	dm := ids.NewDocIDMap()
	staged := stageDoc(t, fm, dm, document.Document{"id": "1", "title": "dune", "year": float64(1965)})

	cfg := DefaultConfig()
	cfg.FilterableFields = map[string]struct{}{"year": {}}
	out, errc := Run([]document.Staged{staged}, cfg, fm)

	var sawFacetNumber bool
	for c := range out {
		if c.Kind == KindFacetNumber {
			sawFacetNumber = true
		}
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !sawFacetNumber {
		t.Fatal("expected a facet-number chunk for the filterable year field")
	}
}

func TestRunRejectsPartialGeoField(t *testing.T) {
	fm := ids.New()
	dm := ids.NewDocIDMap()
	staged := stageDoc(t, fm, dm, document.Document{
		"id":   "1",
		"_geo": map[string]any{"lat": float64(48.8)},
	})

	cfg := DefaultConfig()
	out, errc := Run([]document.Staged{staged}, cfg, fm)
	for range out {
	}
	err := <-errc
	if err == nil {
		t.Fatal("expected an InvalidGeoFieldError for a document missing lng")
	}
	if _, ok := err.(*InvalidGeoFieldError); !ok {
		t.Fatalf("err = %T, want *InvalidGeoFieldError", err)
	}
}

func TestRunIndexesCompleteGeoField(t *testing.T) {
	fm := ids.New()
	dm := ids.NewDocIDMap()
	staged := stageDoc(t, fm, dm, document.Document{
		"id":   "1",
		"_geo": map[string]any{"lat": float64(48.8), "lng": float64(2.3)},
	})

	cfg := DefaultConfig()
	cfg.FilterableFields = map[string]struct{}{"_geo": {}}
	out, errc := Run([]document.Staged{staged}, cfg, fm)

	var facetCount int
	for c := range out {
		if c.Kind == KindFacetNumber {
			facetCount++
		}
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if facetCount != 2 {
		t.Fatalf("expected lat and lng facet entries, got %d facet chunks", facetCount)
	}
}

func TestWordPairProximityIsDirectional(t *testing.T) {
	fm := ids.New()
	dm := ids.NewDocIDMap()
	staged := stageDoc(t, fm, dm, document.Document{"id": "1", "title": "the door opens"})

	cfg := DefaultConfig()
	out, errc := Run([]document.Staged{staged}, cfg, fm)

	forward := string(kvs.WordPairProximityKey("the", "door", 1))
	reverse := string(kvs.WordPairProximityKey("door", "the", 1))
	var sawPair, sawForward, sawReverse bool
	for c := range out {
		if c.Kind == KindWordPairProximityDocids {
			sawPair = true
			switch string(c.Key) {
			case forward:
				sawForward = true
			case reverse:
				sawReverse = true
			}
		}
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !sawPair {
		t.Fatal("expected at least one word-pair-proximity chunk")
	}
	if !sawForward {
		t.Fatal(`expected the ("the", "door", 1) pair in token order`)
	}
	if sawReverse {
		t.Fatal(`unexpected reversed ("door", "the", 1) pair`)
	}
}
