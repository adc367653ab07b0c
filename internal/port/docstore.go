package port

import (
	"context"

	"github.com/step6836/CloudRAG/internal/domain"
)

// DocumentStore holds transcripts, their chunk-to-position mapping and
// string-keyed metadata.
type DocumentStore interface {
	// InsertDocument inserts or replaces a transcript by (company, quarter, fiscal year).
	InsertDocument(ctx context.Context, doc domain.NewDocument) (int64, error)

	// ListDocuments returns transcripts ordered by company ascending, then the
	// most recent quarter first. An empty company lists every transcript.
	ListDocuments(ctx context.Context, company string) ([]domain.Document, error)

	// Companies returns the distinct companies in ascending order.
	Companies(ctx context.Context) ([]string, error)

	// RecordChunkPositions replaces the chunk mapping of a transcript.
	RecordChunkPositions(ctx context.Context, documentID int64, texts []string, positions []int) error

	// MaxChunkPosition returns the largest recorded vector position, or -1.
	MaxChunkPosition(ctx context.Context) (int, error)

	// AggregateStats returns document, chunk, company and word counts.
	AggregateStats(ctx context.Context) (domain.StoreStats, error)

	// GetMeta returns the value stored under key and whether it exists.
	GetMeta(ctx context.Context, key string) (domain.MetaValue, bool, error)

	// SetMeta stores value under key.
	SetMeta(ctx context.Context, key string, value domain.MetaValue) error

	// DeleteOldQuarters keeps the newest keep transcripts per company and
	// returns how many were deleted.
	DeleteOldQuarters(ctx context.Context, keep int) (int, error)

	Close() error
}
