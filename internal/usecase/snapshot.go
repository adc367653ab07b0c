package usecase

import (
	"github.com/step6836/CloudRAG/internal/adapter/store"
	"github.com/step6836/CloudRAG/internal/domain"
)

// Snapshot is an immutable, fully persisted view of the index triple.
// Queries read a snapshot while a refresh builds the next one.
type Snapshot struct {
	Index       *store.FlatIndex
	Texts       []string
	Metas       []domain.ChunkMeta
	Processed   map[int64]int
	Fingerprint string
}

// Len returns the number of indexed chunks.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.Index.Len()
}

// SnapshotSource hands out the current snapshot, or nil before the first load.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

func emptySnapshot() *Snapshot {
	idx, _ := store.NewFlatIndex(nil)
	return &Snapshot{Index: idx, Processed: map[int64]int{}}
}

func snapshotFromTriple(t domain.IndexTriple) (*Snapshot, error) {
	idx, err := store.NewFlatIndex(t.Vectors)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Index:       idx,
		Texts:       t.Texts,
		Metas:       t.Metas,
		Processed:   t.Processed,
		Fingerprint: t.Fingerprint,
	}, nil
}
