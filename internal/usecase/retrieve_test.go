package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/domain"
)

func newRetrieve(t *testing.T, env *testEnv, completer *fakeCompleter) (*RetrieveUseCase, *IndexUseCase) {
	t.Helper()
	index := env.indexUseCase("fp")
	_, err := index.Refresh(context.Background(), nil)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	return NewRetrieveUseCase(index, env.embedder, NewSynthesizer(completer), cfg.Retrieve, cfg.Pricing, discardLogger()), index
}

func TestQueryCompanyFilterDegradesGracefully(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 150, "cloud", "revenue")
	env.addDoc("Globex", "Q1", "FY25", 1500, "cloud", "revenue", "growth")
	completer := &fakeCompleter{out: domain.Completion{Text: "answer"}}
	retrieve, _ := newRetrieve(t, env, completer)

	result, err := retrieve.Query(context.Background(), domain.QueryRequest{
		Question: "How did cloud revenue grow?",
		Company:  "acme",
		TopK:     6,
	})
	require.NoError(t, err)

	assert.Equal(t, windows(150), result.Metadata.ChunksUsed)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, domain.Source{Company: "Acme", Quarter: "Q1", FiscalYear: "FY25"}, result.Sources[0])
}

func TestQueryUnknownCompanyIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	completer := &fakeCompleter{out: domain.Completion{Text: "no information"}}
	retrieve, _ := newRetrieve(t, env, completer)

	result, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "q", Company: "Nobody"})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Metadata.ChunksUsed)
	assert.Empty(t, result.Sources)
	assert.NotNil(t, result.Sources)
	assert.Equal(t, "Context:\n\n\nQuestion: q", completer.user)
}

func TestQuerySourcesAreDedupedAndCapped(t *testing.T) {
	env := newTestEnv(t)
	for _, c := range []string{"Acme", "Globex", "Initech", "Umbrella", "Hooli"} {
		env.addDoc(c, "Q1", "FY25", 150, "cloud", "revenue")
	}
	retrieve, _ := newRetrieve(t, env, &fakeCompleter{})

	result, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "cloud revenue", TopK: 6})
	require.NoError(t, err)

	assert.Equal(t, 6, result.Metadata.ChunksUsed)
	require.Len(t, result.Sources, 3)
	seen := map[domain.Source]bool{}
	for _, s := range result.Sources {
		assert.False(t, seen[s])
		seen[s] = true
	}
}

func TestQueryBuildsGroundedPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 400, "cloud", "revenue")
	env.addDoc("Globex", "Q2", "FY25", 400, "margin")
	completer := &fakeCompleter{out: domain.Completion{Text: "grounded"}}
	retrieve, _ := newRetrieve(t, env, completer)
	ctx := context.Background()

	req := domain.QueryRequest{Question: "What about margin?", TopK: 2}
	chunks, err := retrieve.Retrieve(ctx, req)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.LessOrEqual(t, chunks[0].Distance, chunks[1].Distance)

	result, err := retrieve.Query(ctx, req)
	require.NoError(t, err)

	contextBlock := chunks[0].Text + "\n\n" + chunks[1].Text
	assert.Equal(t, SystemPrompt, completer.system)
	assert.Equal(t, "Context:\n"+contextBlock+"\n\nQuestion: What about margin?", completer.user)
	assert.Equal(t, "grounded", result.Answer)
	assert.Equal(t, len([]rune(contextBlock)), result.Metadata.TotalContextLength)
	assert.Equal(t, "fake-chat", result.Metadata.Model)
}

func TestQueryCostAndSessionTotal(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	completer := &fakeCompleter{out: domain.Completion{Text: "a", InputTokens: 1000, OutputTokens: 200}}
	retrieve, _ := newRetrieve(t, env, completer)

	result, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "what is cloud revenue"})
	require.NoError(t, err)

	want := 4*0.02/1e6 + 1000*0.15/1e6 + 200*0.60/1e6
	assert.InDelta(t, want, result.Cost, 1e-15)

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "what is cloud revenue"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.InDelta(t, 10*want, retrieve.QueryCost(), 1e-12)
}

func TestQueryErrorsNameTheStage(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	completer := &fakeCompleter{err: errBoom}
	retrieve, _ := newRetrieve(t, env, completer)
	ctx := context.Background()

	_, err := retrieve.Query(ctx, domain.QueryRequest{Question: "one two three"})
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, domain.StageCompletion, upstream.Stage)
	// The embedding call was made and is still paid for.
	assert.InDelta(t, 3*0.02/1e6, retrieve.QueryCost(), 1e-15)

	env.embedder.fail(errBoom)
	_, err = retrieve.Query(ctx, domain.QueryRequest{Question: "q"})
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, domain.StageEmbedding, upstream.Stage)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestQueryAndRetrieveValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	retrieve, _ := newRetrieve(t, env, &fakeCompleter{})
	ctx := context.Background()

	calls := map[string]func(domain.QueryRequest) error{
		"query": func(req domain.QueryRequest) error {
			_, err := retrieve.Query(ctx, req)
			return err
		},
		"retrieve": func(req domain.QueryRequest) error {
			_, err := retrieve.Retrieve(ctx, req)
			return err
		},
	}
	bad := []domain.QueryRequest{
		{Question: ""},
		{Question: "   \n\t"},
		{Question: "q", TopK: -1},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			env.embedder.reset()
			for _, req := range bad {
				assert.ErrorIs(t, call(req), domain.ErrInvalidInput, "request %+v", req)
			}
			embeds, _ := env.embedder.counts()
			assert.Equal(t, 0, embeds)
			assert.Zero(t, retrieve.QueryCost())
		})
	}
}

func TestRetrieveUsesTrimmedQuestionAndDefaultTopK(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 1500, "cloud", "revenue")
	retrieve, _ := newRetrieve(t, env, &fakeCompleter{})

	chunks, err := retrieve.Retrieve(context.Background(), domain.QueryRequest{Question: "  cloud  "})
	require.NoError(t, err)
	assert.Len(t, chunks, config.DefaultConfig().Retrieve.TopK)
}

func TestQueryCancellationIsNotUpstream(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	completer := &fakeCompleter{out: domain.Completion{Text: "answer"}}
	retrieve, _ := newRetrieve(t, env, completer)
	ctx := context.Background()

	env.embedder.fail(context.Canceled)
	_, err := retrieve.Query(ctx, domain.QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	_, err = retrieve.Retrieve(ctx, domain.QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrUpstream)

	env.embedder.reset()
	completer.err = context.DeadlineExceeded
	_, err = retrieve.Query(ctx, domain.QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrUpstream)
}

func TestQueryBeforeLoad(t *testing.T) {
	env := newTestEnv(t)
	index := env.indexUseCase("fp")
	cfg := config.DefaultConfig()
	retrieve := NewRetrieveUseCase(index, env.embedder, NewSynthesizer(&fakeCompleter{}), cfg.Retrieve, cfg.Pricing, nil)

	_, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "q"})
	assert.ErrorIs(t, err, domain.ErrIndexNotLoaded)
}

func TestQueryOnEmptyIndex(t *testing.T) {
	env := newTestEnv(t)
	completer := &fakeCompleter{out: domain.Completion{Text: "nothing indexed"}}
	retrieve, _ := newRetrieve(t, env, completer)

	result, err := retrieve.Query(context.Background(), domain.QueryRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Metadata.ChunksUsed)
	assert.True(t, strings.HasPrefix(completer.user, "Context:\n"))
}

func TestQueriesReadLastCommittedSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.addDoc("Acme", "Q1", "FY25", 300, "cloud")
	retrieve, index := newRetrieve(t, env, &fakeCompleter{})
	ctx := context.Background()
	before := index.Snapshot()

	env.addDoc("Globex", "Q1", "FY25", 300, "margin")
	env.embedder.fail(errBoom)
	_, err := index.Refresh(ctx, nil)
	require.Error(t, err)
	env.embedder.reset()

	chunks, err := retrieve.Retrieve(ctx, domain.QueryRequest{Question: "margin", Company: "Globex"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, before.Len(), index.Snapshot().Len())

	_, err = index.Refresh(ctx, nil)
	require.NoError(t, err)
	chunks, err = retrieve.Retrieve(ctx, domain.QueryRequest{Question: "margin", Company: "Globex"})
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}
