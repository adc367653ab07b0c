package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

var (
	bucketVectors   = []byte("vectors")
	bucketChunks    = []byte("chunks")
	bucketChunkMeta = []byte("chunk_meta")
	bucketDocuments = []byte("documents")
	bucketInfo      = []byte("info")

	keyFingerprint = []byte("fingerprint")
	keyDimension   = []byte("dimension")

	tripleBuckets = [][]byte{bucketVectors, bucketChunks, bucketChunkMeta, bucketDocuments}
)

// BoltIndexStore persists the index triple in a single bbolt file. Every
// append is one bbolt transaction, so the three arrays are committed together
// or not at all. bbolt's file lock keeps a second process from opening the
// same index for writing.
type BoltIndexStore struct {
	db   *bbolt.DB
	path string
}

var _ port.IndexStore = (*BoltIndexStore)(nil)

// NewBoltIndexStore opens or creates the index file at path.
func NewBoltIndexStore(path string) (*BoltIndexStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s is held by another process", domain.ErrRefreshInProgress, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range append(tripleBuckets, bucketInfo) {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &BoltIndexStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the index file path.
func (s *BoltIndexStore) Path() string {
	return s.path
}

// Load reads and validates the whole triple.
func (s *BoltIndexStore) Load() (domain.IndexTriple, error) {
	triple := domain.IndexTriple{Processed: make(map[int64]int)}

	err := s.db.View(func(tx *bbolt.Tx) error {
		info := tx.Bucket(bucketInfo)
		triple.Fingerprint = string(info.Get(keyFingerprint))
		dim := 0
		if raw := info.Get(keyDimension); raw != nil {
			dim = int(binary.BigEndian.Uint64(raw))
		}

		var err error
		if triple.Vectors, err = readPositional(tx.Bucket(bucketVectors), func(v []byte) ([]float32, error) {
			return decodeVector(v, dim)
		}); err != nil {
			return fmt.Errorf("vectors: %w", err)
		}
		if triple.Texts, err = readPositional(tx.Bucket(bucketChunks), func(v []byte) (string, error) {
			return string(v), nil
		}); err != nil {
			return fmt.Errorf("chunks: %w", err)
		}
		if triple.Metas, err = readPositional(tx.Bucket(bucketChunkMeta), func(v []byte) (domain.ChunkMeta, error) {
			var m domain.ChunkMeta
			err := json.Unmarshal(v, &m)
			return m, err
		}); err != nil {
			return fmt.Errorf("chunk metadata: %w", err)
		}

		return tx.Bucket(bucketDocuments).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 8 {
				return fmt.Errorf("%w: malformed processed-document record", domain.ErrCorruptState)
			}
			triple.Processed[int64(binary.BigEndian.Uint64(k))] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return domain.IndexTriple{}, err
	}

	if err := ValidateTriple(triple); err != nil {
		return domain.IndexTriple{}, err
	}
	return triple, nil
}

// ValidateTriple checks that the three arrays line up and that every chunk
// belongs to a processed document.
func ValidateTriple(t domain.IndexTriple) error {
	nv, nt, nm := len(t.Vectors), len(t.Texts), len(t.Metas)
	if nv == nt && nt == nm {
		counts := make(map[int64]int)
		for _, m := range t.Metas {
			counts[m.DocumentID]++
		}
		for id, n := range counts {
			if t.Processed[id] != n {
				return fmt.Errorf("%w: document %d has %d chunks in the index but %d recorded",
					domain.ErrCorruptState, id, n, t.Processed[id])
			}
		}
		return nil
	}

	if nv == 0 || nt == 0 || nm == 0 {
		return fmt.Errorf("%w: index artifact missing (vectors=%d, chunks=%d, metadata=%d)",
			domain.ErrConfiguration, nv, nt, nm)
	}
	return fmt.Errorf("%w: index arrays have unequal lengths (vectors=%d, chunks=%d, metadata=%d)",
		domain.ErrCorruptState, nv, nt, nm)
}

// Append commits batch in one transaction. batch.Start must equal the current size.
func (s *BoltIndexStore) Append(batch domain.IndexBatch) error {
	if err := checkBatch(batch); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return appendTx(tx, batch)
	})
}

// Replace discards the persisted triple and writes batch in its place, in one
// transaction. batch.Start must be 0.
func (s *BoltIndexStore) Replace(batch domain.IndexBatch) error {
	if err := checkBatch(batch); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := clearTx(tx); err != nil {
			return err
		}
		return appendTx(tx, batch)
	})
}

func checkBatch(batch domain.IndexBatch) error {
	if len(batch.Vectors) != len(batch.Texts) || len(batch.Texts) != len(batch.Metas) {
		return fmt.Errorf("%w: batch arrays have unequal lengths (vectors=%d, chunks=%d, metadata=%d)",
			domain.ErrCorruptState, len(batch.Vectors), len(batch.Texts), len(batch.Metas))
	}
	return nil
}

func appendTx(tx *bbolt.Tx, batch domain.IndexBatch) error {
	vectors := tx.Bucket(bucketVectors)
	chunks := tx.Bucket(bucketChunks)
	metas := tx.Bucket(bucketChunkMeta)
	docs := tx.Bucket(bucketDocuments)
	info := tx.Bucket(bucketInfo)

	size := nextPosition(vectors)
	if size != batch.Start {
		return fmt.Errorf("%w: batch starts at %d but index holds %d vectors",
			domain.ErrCorruptState, batch.Start, size)
	}

	dim := 0
	if raw := info.Get(keyDimension); raw != nil {
		dim = int(binary.BigEndian.Uint64(raw))
	}

	for i := range batch.Vectors {
		vec := batch.Vectors[i]
		if dim == 0 {
			dim = len(vec)
			if err := info.Put(keyDimension, encodeUint(uint64(dim))); err != nil {
				return err
			}
		}
		if len(vec) != dim {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
		}

		key := encodeUint(uint64(batch.Start + i))
		if err := vectors.Put(key, encodeVector(vec)); err != nil {
			return err
		}
		if err := chunks.Put(key, []byte(batch.Texts[i])); err != nil {
			return err
		}
		data, err := json.Marshal(batch.Metas[i])
		if err != nil {
			return err
		}
		if err := metas.Put(key, data); err != nil {
			return err
		}
	}

	for id, n := range batch.Documents {
		if err := docs.Put(encodeUint(uint64(id)), encodeUint(uint64(n))); err != nil {
			return err
		}
	}

	if batch.Fingerprint != "" {
		return info.Put(keyFingerprint, []byte(batch.Fingerprint))
	}
	return nil
}

// clearTx removes the whole triple, the processed-document set and the fingerprint.
func clearTx(tx *bbolt.Tx) error {
	for _, name := range tripleBuckets {
		if err := tx.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		if _, err := tx.CreateBucket(name); err != nil {
			return err
		}
	}
	info := tx.Bucket(bucketInfo)
	if err := info.Delete(keyFingerprint); err != nil {
		return err
	}
	return info.Delete(keyDimension)
}

// Close closes the underlying database.
func (s *BoltIndexStore) Close() error {
	return s.db.Close()
}

// readPositional decodes a bucket keyed by contiguous positions starting at 0.
func readPositional[T any](b *bbolt.Bucket, decode func([]byte) (T, error)) ([]T, error) {
	var out []T
	err := b.ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			return fmt.Errorf("%w: malformed position key", domain.ErrCorruptState)
		}
		pos := binary.BigEndian.Uint64(k)
		if pos != uint64(len(out)) {
			return fmt.Errorf("%w: expected position %d, found %d", domain.ErrCorruptState, len(out), pos)
		}
		item, err := decode(v)
		if err != nil {
			return fmt.Errorf("%w: position %d: %v", domain.ErrCorruptState, pos, err)
		}
		out = append(out, item)
		return nil
	})
	return out, err
}

func nextPosition(b *bbolt.Bucket) int {
	k, _ := b.Cursor().Last()
	if k == nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(k)) + 1
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte, dim int) ([]float32, error) {
	if len(data)%4 != 0 || (dim > 0 && len(data) != 4*dim) {
		return nil, fmt.Errorf("vector of %d bytes does not match dimension %d", len(data), dim)
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, nil
}
