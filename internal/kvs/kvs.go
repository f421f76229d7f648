// Package kvs is the embedded transactional key-value store the rest of
// the engine treats as an external collaborator (spec §1 "KVS"). It is
// backed by go.etcd.io/bbolt: single-writer, nested-bucket semantics map
// directly onto the per-database layout in spec §6, and bbolt's
// snapshot-isolated read transactions satisfy the "Reads" requirement in
// spec §5 without any extra locking in this package.
package kvs

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	bolt "go.etcd.io/bbolt"
)

// Bucket names, one per database in spec §6's KVS layout.
const (
	BucketMain                          = "main"
	BucketWordDocids                     = "word-docids"
	BucketExactWordDocids                = "exact-word-docids"
	BucketWordPrefixDocids                = "word-prefix-docids"
	BucketExactWordPrefixDocids           = "exact-word-prefix-docids"
	BucketWordPairProximityDocids         = "word-pair-proximity-docids"
	BucketWordPrefixPairProximityDocids   = "word-prefix-pair-proximity-docids"
	BucketWordPositionDocids              = "word-position-docids"
	BucketWordPrefixPositionDocids        = "word-prefix-position-docids"
	BucketFacetIDStringDocids             = "facet-id-string-docids"
	BucketFacetIDF64Docids                = "facet-id-f64-docids"
	BucketDocuments                       = "documents"
	BucketExternalDocumentsIDs            = "external-documents-ids"
)

// MergedDatabases are the "seven merged databases" the merger's progress
// callback counts against (spec §4.5).
var MergedDatabases = []string{
	BucketWordDocids,
	BucketExactWordDocids,
	BucketWordPairProximityDocids,
	BucketWordPositionDocids,
	BucketFacetIDStringDocids,
	BucketFacetIDF64Docids,
	BucketDocuments,
}

// WordsPrefixesFSTPseudoDatabase is not a bucket of its own - the
// words-prefixes FST lives under KeyWordsPrefixesFST in `main` - but
// spec §4.5's progress callback counts it as the fifth member of "five
// prefix databases" (total_databases = 12 = 7 merged + 5 prefix), since
// rebuilding it is a prerequisite step of the same C6 pass that rebuilds
// the four prefix-keyed postings buckets.
const WordsPrefixesFSTPseudoDatabase = "words-prefixes-fst"

// PrefixDatabases are the "five prefix databases" rebuilt by C6: the
// four prefix-keyed postings buckets plus the words-prefixes FST build
// step itself.
var PrefixDatabases = []string{
	WordsPrefixesFSTPseudoDatabase,
	BucketWordPrefixDocids,
	BucketExactWordPrefixDocids,
	BucketWordPrefixPairProximityDocids,
	BucketWordPrefixPositionDocids,
}

// Main-database keys (spec §6 `main` bucket).
const (
	KeyPrimaryKey          = "primary-key"
	KeyFieldsIDsMap         = "fields-ids-map"
	KeyDocumentsIDs         = "documents-ids"
	KeyWordsFST             = "words-fst"
	KeyWordsPrefixesFST     = "words-prefixes-fst"
	KeyFieldDistribution    = "field-distribution"
	KeyStopWords            = "stop-words"
	KeySortableFields        = "sortable-fields"
	KeyFilterableFields      = "filterable-fields"
	KeyExactAttributes       = "exact-attributes"
	KeyAuthorizeTypos        = "authorize-typos"
	KeyDistinctField         = "distinct-field"
	KeyCriteria              = "criteria"
	KeyExternalDocumentsIDs  = "external-documents-ids"
	KeyNextInternalID        = "next-internal-id"
)

// Store is the opened embedded store.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the store at path, pre-creating every bucket in
// spec §6's layout so later transactions never need CreateBucketIfNotExists
// guards scattered through the codebase.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("blaze: opening kvs at %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets() {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("blaze: creating bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func allBuckets() []string {
	buckets := append([]string{BucketMain}, MergedDatabases...)
	for _, name := range PrefixDatabases {
		if name == WordsPrefixesFSTPseudoDatabase {
			continue // lives under a key in `main`, not its own bucket
		}
		buckets = append(buckets, name)
	}
	return append(buckets, BucketExternalDocumentsIDs)
}

// Close closes the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update runs fn inside bbolt's single read-write transaction (spec §5:
// "the merger holds the exclusive write transaction"). A non-nil error
// from fn aborts the transaction and leaves the store unchanged.
func (s *Store) Update(fn func(*Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// View opens an independent, snapshot-isolated read transaction (spec §5:
// "multiple concurrent read transactions are permitted").
func (s *Store) View(fn func(*Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// Tx wraps a bbolt transaction with the roaring-bitmap and typed-key
// helpers the rest of the engine needs.
type Tx struct {
	btx *bolt.Tx
}

func (t *Tx) bucket(name string) (*bolt.Bucket, error) {
	b := t.btx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("blaze: bucket %s does not exist", name)
	}
	return b, nil
}

// GetBitmap loads the roaring bitmap stored at key in bucket, returning an
// empty bitmap (not an error) when the key is absent.
func (t *Tx) GetBitmap(bucket, key string) (*roaring.Bitmap, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	raw := b.Get([]byte(key))
	bm := roaring.New()
	if raw == nil {
		return bm, nil
	}
	if _, err := bm.FromBuffer(raw); err != nil {
		return nil, fmt.Errorf("blaze: decoding bitmap %s/%s: %w", bucket, key, err)
	}
	return bm, nil
}

// PutBitmap writes bm verbatim to key in bucket, replacing any previous
// value.
func (t *Tx) PutBitmap(bucket, key string, bm *roaring.Bitmap) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return fmt.Errorf("blaze: encoding bitmap %s/%s: %w", bucket, key, err)
	}
	return b.Put([]byte(key), buf.Bytes())
}

// MergeBitmap unions bm into whatever is already stored at key (spec §4.5:
// "otherwise each incoming (key, bitmap) is merged with any existing
// bitmap by union"). Deletes the key instead of writing an empty bitmap.
func (t *Tx) MergeBitmap(bucket, key string, bm *roaring.Bitmap) error {
	existing, err := t.GetBitmap(bucket, key)
	if err != nil {
		return err
	}
	existing.Or(bm)
	if existing.IsEmpty() {
		return t.DeleteKey(bucket, key)
	}
	return t.PutBitmap(bucket, key, existing)
}

// SubtractBitmap removes ids from the bitmap stored at key, deleting the
// key entirely if the result is empty (spec §4.5 deletion step, and C6's
// prefix-rebuild "deleted" case).
func (t *Tx) SubtractBitmap(bucket, key string, ids *roaring.Bitmap) error {
	existing, err := t.GetBitmap(bucket, key)
	if err != nil {
		return err
	}
	existing.AndNot(ids)
	if existing.IsEmpty() {
		return t.DeleteKey(bucket, key)
	}
	return t.PutBitmap(bucket, key, existing)
}

// DeleteKey removes key from bucket if present.
func (t *Tx) DeleteKey(bucket, key string) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// PutBytes writes raw bytes to key, used for `main`'s typed records
// (primary-key, words-fst, ...) whose encoding lives one level up.
func (t *Tx) PutBytes(bucket, key string, value []byte) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), value)
}

// GetBytes reads raw bytes from key, nil if absent.
func (t *Tx) GetBytes(bucket, key string) ([]byte, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return nil, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// ForEachKey iterates every key in bucket in lexicographic order, calling
// fn with bbolt's own key and value slices, which are only valid for the
// life of the transaction. Used by C5 to rebuild the words
// FST from surviving postings keys and by C6 to enumerate prefix matches.
func (t *Tx) ForEachKey(bucket string, fn func(key, value []byte) error) error {
	b, err := t.bucket(bucket)
	if err != nil {
		return err
	}
	return b.ForEach(fn)
}

// KeyCount returns the number of keys currently stored in bucket.
func (t *Tx) KeyCount(bucket string) (int, error) {
	b, err := t.bucket(bucket)
	if err != nil {
		return 0, err
	}
	return b.Stats().KeyN, nil
}
