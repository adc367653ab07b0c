package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/step6836/CloudRAG/internal/adapter/store"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// ProgressFunc reports embedded chunks out of the total for the current refresh.
type ProgressFunc func(done, total int)

// IndexOptions configures an IndexUseCase.
type IndexOptions struct {
	// Fingerprint of the current embedding and chunking settings.
	Fingerprint string
	// EmbeddingPerMillion is the USD price of one million embedding tokens.
	EmbeddingPerMillion float64
	// BatchSize is the number of chunks embedded per call.
	BatchSize int
	Logger    *slog.Logger
}

// IndexUseCase keeps the vector index in step with the document store.
// Refreshes are serialized; queries keep reading the last persisted snapshot
// until a refresh has committed.
type IndexUseCase struct {
	indexStore port.IndexStore
	docs       port.DocumentStore
	embedder   port.Embedder
	chunker    port.Chunker
	opts       IndexOptions
	logger     *slog.Logger

	mu    sync.Mutex
	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
	now   func() time.Time
}

// NewIndexUseCase creates a new index use case.
func NewIndexUseCase(
	indexStore port.IndexStore,
	docs port.DocumentStore,
	embedder port.Embedder,
	chunker port.Chunker,
	opts IndexOptions,
) *IndexUseCase {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &IndexUseCase{
		indexStore: indexStore,
		docs:       docs,
		embedder:   embedder,
		chunker:    chunker,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// RefreshMode says what a refresh did.
type RefreshMode string

const (
	ModeNoop        RefreshMode = "noop"
	ModeFull        RefreshMode = "full"
	ModeIncremental RefreshMode = "incremental"
	ModeWarning     RefreshMode = "warning"
)

// RefreshReport contains the results of a refresh.
type RefreshReport struct {
	Mode           RefreshMode                `json:"mode"`
	StoreChunks    int                        `json:"store_chunks"`
	IndexBefore    int                        `json:"index_before"`
	IndexAfter     int                        `json:"index_after"`
	DocumentsAdded int                        `json:"documents_added"`
	ChunksAdded    int                        `json:"chunks_added"`
	Tokens         int                        `json:"tokens"`
	Cost           float64                    `json:"cost"`
	Warning        *domain.ConsistencyWarning `json:"warning,omitempty"`
}

// Snapshot returns the last loaded or committed snapshot, or nil.
func (u *IndexUseCase) Snapshot() *Snapshot {
	return u.snap.Load()
}

// Load reads the persisted index, validates it against the current settings
// and the document store, and makes it the current snapshot.
func (u *IndexUseCase) Load(ctx context.Context) (*Snapshot, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.load(ctx)
}

func (u *IndexUseCase) load(ctx context.Context) (*Snapshot, error) {
	triple, err := u.indexStore.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", u.indexStore.Path(), err)
	}

	if check := store.CheckFingerprint(triple.Fingerprint, u.opts.Fingerprint); check.NeedsRebuild {
		return nil, fmt.Errorf("%w: %s; run a rebuild", domain.ErrConfiguration, check.Reason)
	}

	snap, err := snapshotFromTriple(triple)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptState, err)
	}
	if snap.Len() > 0 && snap.Index.Dimension() != u.embedder.Dimension() {
		return nil, fmt.Errorf("%w: index holds %d-dimensional vectors but the embedder produces %d",
			domain.ErrConfiguration, snap.Index.Dimension(), u.embedder.Dimension())
	}

	maxPos, err := u.docs.MaxChunkPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk positions: %w", err)
	}
	if maxPos >= snap.Len() {
		return nil, fmt.Errorf("%w: document store references vector position %d but the index holds %d vectors",
			domain.ErrCorruptState, maxPos, snap.Len())
	}

	u.snap.Store(snap)
	return snap, nil
}

// Refresh reconciles the index with the document store: unseen documents are
// chunked, embedded and appended. Concurrent callers share one refresh.
// It is idempotent: with nothing new it makes no embedding calls and no writes.
//
// The shared refresh is not cancelled with ctx. A caller whose ctx ends stops
// waiting and gets ctx.Err(); the others still receive the result.
func (u *IndexUseCase) Refresh(ctx context.Context, progress ProgressFunc) (*RefreshReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := u.group.DoChan(u.indexStore.Path(), func() (any, error) {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.reconcile(shared, progress)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		report := *res.Val.(*RefreshReport)
		return &report, nil
	}
}

func (u *IndexUseCase) reconcile(ctx context.Context, progress ProgressFunc) (*RefreshReport, error) {
	snap, err := u.load(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := u.docs.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	n := snap.Len()
	report := &RefreshReport{
		Mode:        ModeNoop,
		StoreChunks: stats.TotalChunks,
		IndexBefore: n,
		IndexAfter:  n,
	}

	if stats.TotalChunks < n {
		w := domain.ConsistencyWarning{StoreChunks: stats.TotalChunks, IndexVectors: n}
		report.Mode = ModeWarning
		report.Warning = &w
		u.logger.Warn("index is ahead of the document store", "store_chunks", w.StoreChunks, "index_vectors", w.IndexVectors)
		return report, nil
	}

	docs, err := u.docs.ListDocuments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var pending []domain.Document
	for _, d := range docs {
		if _, ok := snap.Processed[d.ID]; !ok {
			pending = append(pending, d)
		}
	}

	if len(pending) == 0 {
		u.logger.Debug("index is up to date", "vectors", n, "store_chunks", stats.TotalChunks)
		return report, nil
	}

	mode := ModeIncremental
	if n == 0 {
		mode = ModeFull
	}
	u.logger.Info("refreshing index", "mode", mode, "documents", len(pending), "index_size", n)

	batch, tokens, err := u.embedDocuments(ctx, n, pending, progress)
	if err != nil {
		return nil, err
	}

	next, err := u.commit(ctx, snap, batch, tokens, false)
	if err != nil {
		return nil, err
	}

	report.Mode = mode
	report.IndexAfter = next.Len()
	report.DocumentsAdded = len(pending)
	report.ChunksAdded = len(batch.Texts)
	report.Tokens = tokens
	report.Cost = tokenCost(tokens, u.opts.EmbeddingPerMillion)
	return report, nil
}

// Rebuild re-embeds every document and replaces the persisted index. It is
// required after the embedding model or the chunking settings change. The
// previous index stays in place until every embedding has succeeded.
func (u *IndexUseCase) Rebuild(ctx context.Context, progress ProgressFunc) (*RefreshReport, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	before := 0
	if snap := u.snap.Load(); snap != nil {
		before = snap.Len()
	}

	docs, err := u.docs.ListDocuments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	u.logger.Info("rebuilding index", "documents", len(docs))

	batch, tokens, err := u.embedDocuments(ctx, 0, docs, progress)
	if err != nil {
		return nil, err
	}

	next, err := u.commit(ctx, emptySnapshot(), batch, tokens, true)
	if err != nil {
		return nil, err
	}

	stats, err := u.docs.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}

	return &RefreshReport{
		Mode:           ModeFull,
		StoreChunks:    stats.TotalChunks,
		IndexBefore:    before,
		IndexAfter:     next.Len(),
		DocumentsAdded: len(docs),
		ChunksAdded:    len(batch.Texts),
		Tokens:         tokens,
		Cost:           tokenCost(tokens, u.opts.EmbeddingPerMillion),
	}, nil
}

// embedDocuments chunks docs in order and embeds every chunk. Positions start
// at start. Nothing is written; an embedding failure returns the error alone.
func (u *IndexUseCase) embedDocuments(ctx context.Context, start int, docs []domain.Document, progress ProgressFunc) (domain.IndexBatch, int, error) {
	batch := domain.IndexBatch{
		Start:       start,
		Documents:   make(map[int64]int, len(docs)),
		Fingerprint: u.opts.Fingerprint,
	}

	for _, d := range docs {
		chunks := u.chunker.Chunk(d.RawText)
		batch.Documents[d.ID] = len(chunks)
		meta := domain.ChunkMeta{DocumentID: d.ID, Company: d.Company, Quarter: d.Quarter, FiscalYear: d.FiscalYear}
		for _, c := range chunks {
			batch.Texts = append(batch.Texts, c)
			batch.Metas = append(batch.Metas, meta)
		}
	}

	total := len(batch.Texts)
	tokens := 0
	batch.Vectors = make([][]float32, 0, total)
	for i := 0; i < total; i += u.opts.BatchSize {
		end := min(i+u.opts.BatchSize, total)

		vectors, used, err := u.embedder.EmbedBatch(ctx, batch.Texts[i:end])
		if err != nil {
			return domain.IndexBatch{}, 0, domain.Upstream(domain.StageEmbedding, err)
		}
		if len(vectors) != end-i {
			return domain.IndexBatch{}, 0, domain.Upstream(domain.StageEmbedding,
				fmt.Errorf("expected %d embeddings, got %d", end-i, len(vectors)))
		}
		batch.Vectors = append(batch.Vectors, vectors...)
		tokens += used

		if progress != nil {
			progress(end, total)
		}
	}

	return batch, tokens, nil
}

// commit persists batch, swaps in the new snapshot, then records chunk
// positions and the embedding spend in the document store. A failure after
// the index commit leaves the store behind the index, which the next refresh
// reports as a consistency warning.
func (u *IndexUseCase) commit(ctx context.Context, base *Snapshot, batch domain.IndexBatch, tokens int, replace bool) (*Snapshot, error) {
	idx, err := base.Index.With(batch.Vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: embeddings do not fit the index: %v", domain.ErrConfiguration, err)
	}

	if replace {
		err = u.indexStore.Replace(batch)
	} else {
		err = u.indexStore.Append(batch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist index: %w", err)
	}

	processed := make(map[int64]int, len(base.Processed)+len(batch.Documents))
	for id, n := range base.Processed {
		processed[id] = n
	}
	for id, n := range batch.Documents {
		processed[id] = n
	}
	next := &Snapshot{
		Index:       idx,
		Texts:       slices.Concat(base.Texts, batch.Texts),
		Metas:       slices.Concat(base.Metas, batch.Metas),
		Processed:   processed,
		Fingerprint: batch.Fingerprint,
	}
	u.snap.Store(next)

	var errs []error
	pos := batch.Start
	for i := 0; i < len(batch.Texts); {
		docID := batch.Metas[i].DocumentID
		n := batch.Documents[docID]
		positions := make([]int, n)
		for j := range positions {
			positions[j] = pos + j
		}
		if err := u.docs.RecordChunkPositions(ctx, docID, batch.Texts[i:i+n], positions); err != nil {
			errs = append(errs, fmt.Errorf("transcript %d: %w", docID, err))
		}
		pos += n
		i += n
	}

	if len(batch.Texts) > 0 {
		cost := tokenCost(tokens, u.opts.EmbeddingPerMillion)
		if err := recordEmbeddingSpend(ctx, u.docs, cost, u.embedder.ModelName(), u.now()); err != nil {
			errs = append(errs, fmt.Errorf("recording embedding cost: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		u.logger.Error("index committed but document store update failed", "error", err)
		return nil, fmt.Errorf("index committed but document store update failed: %w", err)
	}

	u.logger.Info("index committed", "vectors", next.Len(), "added", len(batch.Texts), "tokens", tokens)
	return next, nil
}
