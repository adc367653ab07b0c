package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/step6836/CloudRAG/internal/adapter/chunker"
	"github.com/step6836/CloudRAG/internal/adapter/embedding"
	"github.com/step6836/CloudRAG/internal/adapter/memstore"
	"github.com/step6836/CloudRAG/internal/adapter/store"
	"github.com/step6836/CloudRAG/internal/domain"
)

const testDimension = 32

// countingEmbedder wraps the mock embedder, counts embedded texts and can be
// told to fail.
type countingEmbedder struct {
	*embedding.MockEmbedder

	mu    sync.Mutex
	texts int
	calls int
	err   error
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(testDimension)}
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return domain.Embedding{}, err
	}
	return e.MockEmbedder.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, int, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	if err == nil {
		e.texts += len(texts)
	}
	e.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	return e.MockEmbedder.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *countingEmbedder) reset() {
	e.mu.Lock()
	e.texts, e.calls, e.err = 0, 0, nil
	e.mu.Unlock()
}

func (e *countingEmbedder) counts() (calls, texts int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.texts
}

// fakeCompleter returns a fixed completion and records the prompts it saw.
type fakeCompleter struct {
	mu     sync.Mutex
	system string
	user   string
	calls  int
	out    domain.Completion
	err    error
}

func (c *fakeCompleter) Complete(_ context.Context, system, user string) (domain.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.system, c.user = system, user
	if c.err != nil {
		return domain.Completion{}, c.err
	}
	return c.out, nil
}

func (c *fakeCompleter) ModelName() string { return "fake-chat" }

var errBoom = errors.New("boom")

type testEnv struct {
	t        *testing.T
	docs     *memstore.MemoryStore
	store    *store.BoltIndexStore
	embedder *countingEmbedder
	chunker  *chunker.WindowChunker
	path     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := store.NewBoltIndexStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := chunker.NewWindowChunker(100, 20)
	require.NoError(t, err)

	return &testEnv{
		t:        t,
		docs:     memstore.NewMemoryStore(),
		store:    s,
		embedder: newCountingEmbedder(),
		chunker:  c,
		path:     path,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *testEnv) indexUseCase(fingerprint string) *IndexUseCase {
	return NewIndexUseCase(e.store, e.docs, e.embedder, e.chunker, IndexOptions{
		Fingerprint:         fingerprint,
		EmbeddingPerMillion: 0.02,
		BatchSize:           4,
		Logger:              discardLogger(),
	})
}

// addDoc inserts a transcript whose text is words repeated to at least length characters.
func (e *testEnv) addDoc(company, quarter, fy string, length int, words ...string) int64 {
	e.t.Helper()
	text := ""
	if length > 0 {
		phrase := strings.Join(words, " ") + " "
		text = strings.Repeat(phrase, length/len(phrase)+1)[:length]
	}
	id, err := e.docs.InsertDocument(context.Background(), domain.NewDocument{
		Company: company, Quarter: quarter, FiscalYear: fy, Text: text,
	})
	require.NoError(e.t, err)
	return id
}

// windows returns how many 100/20 windows a text of n characters produces.
func windows(n int) int {
	if n == 0 {
		return 0
	}
	return (n + 79) / 80
}
