package prefixdb

import (
	"path/filepath"
	"testing"

	"github.com/blaze-search/blaze/internal/document"
	"github.com/blaze-search/blaze/internal/extract"
	"github.com/blaze-search/blaze/internal/fstx"
	"github.com/blaze-search/blaze/internal/ids"
	"github.com/blaze-search/blaze/internal/kvs"
	"github.com/blaze-search/blaze/internal/merge"
)

func openStore(t *testing.T) *kvs.Store {
	t.Helper()
	store, err := kvs.Open(filepath.Join(t.TempDir(), "blaze.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ingest(t *testing.T, store *kvs.Store, fm *ids.FieldMap, dm *ids.DocIDMap, titles []string) {
	t.Helper()
	var staged []document.Staged
	for i, title := range titles {
		s, err := document.Stage(document.Document{"id": titlesID(i), "title": title}, "id", fm, dm, document.Replace, false)
		if err != nil {
			t.Fatal(err)
		}
		staged = append(staged, s)
	}
	cfg := extract.DefaultConfig()
	chunks, errc := extract.Run(staged, cfg, fm)
	if _, err := merge.Merge(store, staged, chunks, merge.Config{FieldMap: fm, DocIDMap: dm, PrimaryKey: "id", Mode: document.Replace}, nil); err != nil {
		t.Fatal(err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func titlesID(i int) string {
	return string(rune('a' + i))
}

func TestBuildIndexesFrequentPrefix(t *testing.T) {
	store := openStore(t)
	fm := ids.New()
	dm := ids.NewDocIDMap()

	ingest(t, store, fm, dm, []string{"zealand", "zealous", "zebra"})

	result, err := Build(store, Config{WordsPrefixThreshold: 2, MaxPrefixLength: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.PrefixesAdded == 0 {
		t.Fatal("expected at least one newly indexed prefix")
	}

	err = store.View(func(tx *kvs.Tx) error {
		raw, err := tx.GetBytes(kvs.BucketMain, kvs.KeyWordsPrefixesFST)
		if err != nil {
			return err
		}
		fst, err := fstx.Load(raw)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok, err := fst.Get([]byte("ze")); err != nil || !ok {
			t.Fatal(`expected "ze" to be an indexed prefix`)
		}
		bm, err := tx.GetBitmap(kvs.BucketWordPrefixDocids, "ze")
		if err != nil {
			return err
		}
		if bm.GetCardinality() != 3 {
			t.Fatalf("prefix \"ze\" bitmap cardinality = %d, want 3", bm.GetCardinality())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestBuildDropsPrefixBelowThresholdOnRebuild(t *testing.T) {
	store := openStore(t)
	fm := ids.New()
	dm := ids.NewDocIDMap()

	ingest(t, store, fm, dm, []string{"zealand", "zealous"})
	result, err := Build(store, Config{WordsPrefixThreshold: 2, MaxPrefixLength: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.PrefixesAdded == 0 {
		t.Fatal("expected \"ze\" to be indexed on the first build")
	}

	// Re-run with a threshold the same two words no longer clear.
	result, err = Build(store, Config{WordsPrefixThreshold: 5, MaxPrefixLength: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.PrefixesDeleted == 0 {
		t.Fatal("expected the raised threshold to delete previously-indexed prefixes")
	}

	err = store.View(func(tx *kvs.Tx) error {
		bm, err := tx.GetBitmap(kvs.BucketWordPrefixDocids, "ze")
		if err != nil {
			return err
		}
		if !bm.IsEmpty() {
			t.Fatal("expected \"ze\" to be purged from word-prefix-docids after the threshold rose")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestProgressReportsContinueFromSeven(t *testing.T) {
	store := openStore(t)
	fm := ids.New()
	dm := ids.NewDocIDMap()
	ingest(t, store, fm, dm, []string{"alpha", "alpine"})

	var reports []merge.Progress
	if _, err := Build(store, Config{WordsPrefixThreshold: 1, MaxPrefixLength: 4}, func(p merge.Progress) {
		reports = append(reports, p)
	}); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 5 {
		t.Fatalf("got %d progress reports, want 5", len(reports))
	}
	if reports[0].DatabasesSeen != 8 {
		t.Fatalf("first prefix report databases_seen = %d, want 8", reports[0].DatabasesSeen)
	}
	last := reports[len(reports)-1]
	if last.DatabasesSeen != 12 || last.TotalDatabases != 12 {
		t.Fatalf("last report = %+v, want databases_seen=12 total=12", last)
	}
}
