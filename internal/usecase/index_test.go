package usecase

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/step6836/CloudRAG/internal/adapter/embedding"
	"github.com/step6836/CloudRAG/internal/adapter/memstore"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

func TestRefreshEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	index := env.indexUseCase("fp")

	report, err := index.Refresh(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, ModeNoop, report.Mode)
	assert.Equal(t, 0, report.IndexAfter)
	assert.Equal(t, 0, index.Snapshot().Len())
	calls, _ := env.embedder.counts()
	assert.Equal(t, 0, calls)
}

func TestRefreshFullBuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acme := env.addDoc("Acme", "Q1", "FY25", 250, "cloud", "revenue")
	globex := env.addDoc("Globex", "Q1", "FY25", 170, "margin", "guidance")

	var progress [][2]int
	index := env.indexUseCase("fp")
	report, err := index.Refresh(ctx, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)

	want := windows(250) + windows(170)
	assert.Equal(t, ModeFull, report.Mode)
	assert.Equal(t, want, report.IndexAfter)
	assert.Equal(t, want, report.ChunksAdded)
	assert.Equal(t, 2, report.DocumentsAdded)
	assert.Greater(t, report.Tokens, 0)
	require.NotEmpty(t, progress)
	assert.Equal(t, [2]int{want, want}, progress[len(progress)-1])

	snap := index.Snapshot()
	require.Equal(t, want, snap.Len())
	assert.Len(t, snap.Texts, want)
	assert.Len(t, snap.Metas, want)

	// Companies ascending, each document contiguous.
	for i := 0; i < windows(250); i++ {
		assert.Equal(t, acme, snap.Metas[i].DocumentID)
	}
	for i := windows(250); i < want; i++ {
		assert.Equal(t, globex, snap.Metas[i].DocumentID)
		assert.Equal(t, "Globex", snap.Metas[i].Company)
	}

	stats, err := env.docs.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, stats.TotalChunks)
	max, err := env.docs.MaxChunkPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, want-1, max)

	cost, err := embeddingSpend(ctx, env.docs)
	require.NoError(t, err)
	assert.InDelta(t, report.Cost, cost, 1e-12)

	model, ok, err := env.docs.GetMeta(ctx, domain.MetaEmbeddingModel)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mock", model.String())
	_, ok, _ = env.docs.GetMeta(ctx, domain.MetaEmbeddingDate)
	assert.True(t, ok)
}

func TestRefreshIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud", "revenue")
	env.addDoc("Globex", "Q2", "FY25", 90, "margin")

	index := env.indexUseCase("fp")
	_, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	before, err := os.ReadFile(env.path)
	require.NoError(t, err)
	costBefore, _ := embeddingSpend(ctx, env.docs)
	env.embedder.reset()

	report, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeNoop, report.Mode)
	calls, _ := env.embedder.counts()
	assert.Equal(t, 0, calls)

	after, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	costAfter, _ := embeddingSpend(ctx, env.docs)
	assert.Equal(t, costBefore, costAfter)
}

func TestRefreshIncrementalAppendsOnlyNewDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud", "revenue")
	env.addDoc("Globex", "Q1", "FY25", 170, "margin", "guidance")

	index := env.indexUseCase("fp")
	first, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	n0 := first.IndexAfter
	oldTexts := append([]string(nil), index.Snapshot().Texts...)

	initech := env.addDoc("Initech", "Q3", "FY25", 330, "pipeline", "bookings")
	env.embedder.reset()

	second, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, second.Mode)
	assert.Equal(t, n0, second.IndexBefore)
	assert.Equal(t, n0+windows(330), second.IndexAfter)
	assert.Equal(t, 1, second.DocumentsAdded)

	_, texts := env.embedder.counts()
	assert.Equal(t, windows(330), texts, "only the new transcript is embedded")

	snap := index.Snapshot()
	assert.Equal(t, oldTexts, snap.Texts[:n0], "existing positions are unchanged")
	for i := n0; i < snap.Len(); i++ {
		assert.Equal(t, initech, snap.Metas[i].DocumentID)
	}

	max, err := env.docs.MaxChunkPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Len()-1, max)

	// The reloaded triple matches the in-memory one.
	reloaded, err := env.indexUseCase("fp").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Texts, reloaded.Texts)
	assert.Equal(t, snap.Metas, reloaded.Metas)
}

func TestRefreshCostIsAdditive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 400, "cloud", "revenue", "growth")

	index := env.indexUseCase("fp")
	first, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	env.addDoc("Acme", "Q2", "FY25", 600, "net", "retention", "rate")
	second, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	total, err := embeddingSpend(ctx, env.docs)
	require.NoError(t, err)
	assert.Greater(t, second.Cost, 0.0)
	assert.InDelta(t, first.Cost+second.Cost, total, 1e-12)
}

func TestRefreshEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud")

	index := env.indexUseCase("fp")
	_, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	before := index.Snapshot()
	costBefore, _ := embeddingSpend(ctx, env.docs)
	fileBefore, err := os.ReadFile(env.path)
	require.NoError(t, err)

	globex := env.addDoc("Globex", "Q1", "FY25", 500, "margin")
	env.embedder.fail(errBoom)

	_, err = index.Refresh(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.ErrorIs(t, err, errBoom)
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, domain.StageEmbedding, upstream.Stage)

	assert.Equal(t, before.Len(), index.Snapshot().Len())
	fileAfter, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Equal(t, fileBefore, fileAfter)
	costAfter, _ := embeddingSpend(ctx, env.docs)
	assert.Equal(t, costBefore, costAfter)

	stats, _ := env.docs.AggregateStats(ctx)
	assert.Equal(t, before.Len(), stats.TotalChunks)

	// A retry after the service recovers picks the document up.
	env.embedder.reset()
	report, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DocumentsAdded)
	assert.Equal(t, globex, index.Snapshot().Metas[report.IndexAfter-1].DocumentID)
}

func TestRefreshWarnsWhenIndexIsAheadOfStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY24", 250, "old")
	env.addDoc("Acme", "Q2", "FY24", 250, "new")

	index := env.indexUseCase("fp")
	built, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	deleted, err := env.docs.DeleteOldQuarters(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	env.addDoc("Acme", "Q3", "FY24", 250, "newest")
	env.embedder.reset()

	report, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, ModeWarning, report.Mode)
	require.NotNil(t, report.Warning)
	assert.Equal(t, built.IndexAfter, report.Warning.IndexVectors)
	assert.Equal(t, windows(250), report.Warning.StoreChunks)
	assert.Contains(t, report.Warning.String(), "rebuild")
	assert.Equal(t, built.IndexAfter, index.Snapshot().Len())
	calls, _ := env.embedder.counts()
	assert.Equal(t, 0, calls)
}

func TestRefreshMarksEmptyDocumentsProcessed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	empty := env.addDoc("Acme", "Q1", "FY25", 0)

	index := env.indexUseCase("fp")
	report, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.IndexAfter)
	assert.Equal(t, 1, report.DocumentsAdded)
	assert.Contains(t, index.Snapshot().Processed, empty)

	report, err = index.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeNoop, report.Mode)
}

func TestLoadRejectsChangedSettingsUntilRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud")
	env.addDoc("Globex", "Q1", "FY25", 170, "margin")

	_, err := env.indexUseCase("fp-old").Refresh(ctx, nil)
	require.NoError(t, err)

	index := env.indexUseCase("fp-new")
	_, err = index.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = index.Refresh(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	report, err := index.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeFull, report.Mode)
	assert.Equal(t, windows(250)+windows(170), report.IndexAfter)

	snap, err := index.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp-new", snap.Fingerprint)
	assert.Equal(t, report.IndexAfter, snap.Len())
}

func TestRebuildRecoversFromIndexAheadOfStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY24", 250, "old")
	env.addDoc("Acme", "Q2", "FY24", 170, "new")

	index := env.indexUseCase("fp")
	_, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	_, err = env.docs.DeleteOldQuarters(ctx, 1)
	require.NoError(t, err)

	report, err := index.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, windows(170), report.IndexAfter)

	again, err := index.Refresh(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeNoop, again.Mode)
}

func TestLoadRejectsStorePositionsBeyondIndex(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acme := env.addDoc("Acme", "Q1", "FY25", 250, "cloud")

	index := env.indexUseCase("fp")
	report, err := index.Refresh(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, env.docs.RecordChunkPositions(ctx, acme, []string{"x"}, []int{report.IndexAfter}))

	_, err = index.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrCorruptState)
}

func TestConcurrentRefreshEmbedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 800, "cloud", "revenue")
	index := env.indexUseCase("fp")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = index.Refresh(ctx, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	_, texts := env.embedder.counts()
	assert.Equal(t, windows(800), texts)
	assert.Equal(t, windows(800), index.Snapshot().Len())
}

func TestPositionsAreContiguousAcrossRefreshes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	index := env.indexUseCase("fp")

	companies := []string{"Acme", "Globex", "Initech", "Umbrella"}
	for i, c := range companies {
		env.addDoc(c, "Q1", "FY25", 100+70*i, "word")
		_, err := index.Refresh(ctx, nil)
		require.NoError(t, err)
	}

	snap := index.Snapshot()
	var lastDoc int64
	seen := map[int64]bool{}
	for _, m := range snap.Metas {
		if m.DocumentID != lastDoc {
			assert.False(t, seen[m.DocumentID], "document %d is split across the index", m.DocumentID)
			seen[m.DocumentID] = true
			lastDoc = m.DocumentID
		}
	}
	assert.Len(t, seen, len(companies))

	stats, _ := env.docs.AggregateStats(ctx)
	assert.Equal(t, snap.Len(), stats.TotalChunks)
}

// gatedEmbedder holds every batch until release is closed.
type gatedEmbedder struct {
	*countingEmbedder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (e *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	e.once.Do(func() { close(e.entered) })
	select {
	case <-e.release:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	return e.countingEmbedder.EmbedBatch(ctx, texts)
}

func TestRefreshOutlivesCancelledCaller(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 400, "cloud", "revenue")
	gated := &gatedEmbedder{
		countingEmbedder: env.embedder,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	index := NewIndexUseCase(env.store, env.docs, gated, env.chunker, IndexOptions{
		Fingerprint: "fp",
		BatchSize:   4,
		Logger:      discardLogger(),
	})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := index.Refresh(ctxA, nil)
		errA <- err
	}()
	<-gated.entered

	errB := make(chan error, 1)
	go func() {
		_, err := index.Refresh(context.Background(), nil)
		errB <- err
	}()

	cancelA()
	err := <-errA
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	close(gated.release)
	require.NoError(t, <-errB)
	assert.Equal(t, windows(400), index.Snapshot().Len())
	_, texts := env.embedder.counts()
	assert.Equal(t, windows(400), texts)

	triple, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, windows(400), triple.Len())
}

func TestRefreshWithCancelledContextDoesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud")
	index := env.indexUseCase("fp")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := index.Refresh(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	calls, _ := env.embedder.counts()
	assert.Equal(t, 0, calls)
}

func TestRefreshEmbeddingCancellationIsNotUpstream(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud")
	env.embedder.fail(context.DeadlineExceeded)

	_, err := env.indexUseCase("fp").Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}

// positionFailingStore fails every chunk position write.
type positionFailingStore struct {
	*memstore.MemoryStore
}

func (positionFailingStore) RecordChunkPositions(context.Context, int64, []string, []int) error {
	return errBoom
}

// ledgerFailingStore fails every metadata write.
type ledgerFailingStore struct {
	*memstore.MemoryStore
}

func (ledgerFailingStore) SetMeta(context.Context, string, domain.MetaValue) error {
	return errBoom
}

func TestRefreshStoreFailureAfterIndexCommit(t *testing.T) {
	tests := []struct {
		name        string
		wrap        func(*memstore.MemoryStore) port.DocumentStore
		storeChunks int
	}{
		{
			name:        "chunk positions",
			wrap:        func(m *memstore.MemoryStore) port.DocumentStore { return positionFailingStore{m} },
			storeChunks: 0,
		},
		{
			name:        "cost ledger",
			wrap:        func(m *memstore.MemoryStore) port.DocumentStore { return ledgerFailingStore{m} },
			storeChunks: windows(250),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.addDoc("Acme", "Q1", "FY25", 250, "cloud")
			index := NewIndexUseCase(env.store, tt.wrap(env.docs), env.embedder, env.chunker, IndexOptions{
				Fingerprint:         "fp",
				EmbeddingPerMillion: 0.02,
				BatchSize:           4,
				Logger:              discardLogger(),
			})

			_, err := index.Refresh(ctx, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, errBoom)
			assert.Contains(t, err.Error(), "index committed")

			// The index commit and the snapshot swap already happened.
			assert.Equal(t, windows(250), index.Snapshot().Len())
			triple, err := env.store.Load()
			require.NoError(t, err)
			assert.Equal(t, windows(250), triple.Len())

			stats, err := env.docs.AggregateStats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.storeChunks, stats.TotalChunks)

			env.embedder.reset()
			report, err := index.Refresh(ctx, nil)
			require.NoError(t, err)
			if tt.storeChunks < windows(250) {
				assert.Equal(t, ModeWarning, report.Mode)
				require.NotNil(t, report.Warning)
				assert.Equal(t, tt.storeChunks, report.Warning.StoreChunks)
				assert.Equal(t, windows(250), report.Warning.IndexVectors)
			} else {
				assert.Equal(t, ModeNoop, report.Mode)
			}
			calls, _ := env.embedder.counts()
			assert.Equal(t, 0, calls)
		})
	}
}

// shortVectorEmbedder claims the test dimension but returns shorter vectors.
type shortVectorEmbedder struct {
	*embedding.MockEmbedder
}

func (shortVectorEmbedder) Dimension() int { return testDimension }

func TestRefreshRejectsEmbeddingsOfTheWrongDimension(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addDoc("Acme", "Q1", "FY25", 250, "cloud")
	_, err := env.indexUseCase("fp").Refresh(ctx, nil)
	require.NoError(t, err)
	fileBefore, err := os.ReadFile(env.path)
	require.NoError(t, err)

	env.addDoc("Globex", "Q1", "FY25", 250, "margin")
	short := shortVectorEmbedder{embedding.NewMockEmbedder(testDimension / 2)}
	index := NewIndexUseCase(env.store, env.docs, short, env.chunker, IndexOptions{
		Fingerprint: "fp",
		BatchSize:   4,
		Logger:      discardLogger(),
	})

	_, err = index.Refresh(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
	assert.Equal(t, windows(250), index.Snapshot().Len())

	fileAfter, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Equal(t, fileBefore, fileAfter)
}
