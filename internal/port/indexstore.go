package port

import "github.com/step6836/CloudRAG/internal/domain"

// IndexStore persists the index triple.
type IndexStore interface {
	// Load reads the persisted triple. An absent index loads as empty.
	Load() (domain.IndexTriple, error)

	// Append commits batch atomically. batch.Start must equal the persisted size.
	Append(batch domain.IndexBatch) error

	// Replace discards the persisted triple and commits batch in its place,
	// atomically. batch.Start must be 0.
	Replace(batch domain.IndexBatch) error

	// Path identifies the artifact set.
	Path() string

	Close() error
}
