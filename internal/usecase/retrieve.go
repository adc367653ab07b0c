package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// RetrieveUseCase answers questions from the current index snapshot.
type RetrieveUseCase struct {
	index    SnapshotSource
	embedder port.Embedder
	synth    *Synthesizer
	cfg      config.RetrieveConfig
	pricing  config.PricingConfig
	logger   *slog.Logger

	mu        sync.Mutex
	queryCost float64
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(
	index SnapshotSource,
	embedder port.Embedder,
	synth *Synthesizer,
	cfg config.RetrieveConfig,
	pricing config.PricingConfig,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OverfetchFactor < config.MinOverfetchFactor {
		cfg.OverfetchFactor = config.MinOverfetchFactor
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = 3
	}
	return &RetrieveUseCase{
		index:    index,
		embedder: embedder,
		synth:    synth,
		cfg:      cfg,
		pricing:  pricing,
		logger:   logger,
	}
}

// RetrievedChunk is a chunk accepted for the context block.
type RetrievedChunk struct {
	Position int
	Distance float32
	Text     string
	Meta     domain.ChunkMeta
}

// Query embeds the question, retrieves up to TopK chunks (restricted to one
// company when req.Company is set) and asks for a grounded answer. The cost
// of every upstream call made is added to the session total, including calls
// made before a failure.
func (u *RetrieveUseCase) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error) {
	question, topK, snap, err := u.prepare(req)
	if err != nil {
		return nil, err
	}

	var cost float64
	defer func() { u.addQueryCost(cost) }()

	emb, err := u.embedder.Embed(ctx, question)
	if err != nil {
		return nil, domain.Upstream(domain.StageEmbedding, err)
	}
	cost += tokenCost(emb.Tokens, u.pricing.EmbeddingPerMillion)

	chunks, err := u.search(snap, emb.Vector, strings.TrimSpace(req.Company), topK)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	contextBlock := BuildContext(texts)

	completion, err := u.synth.Answer(ctx, req.Question, contextBlock)
	if err != nil {
		return nil, domain.Upstream(domain.StageCompletion, err)
	}
	cost += tokenCost(completion.InputTokens, u.pricing.InputPerMillion) +
		tokenCost(completion.OutputTokens, u.pricing.OutputPerMillion)

	u.logger.Debug("query answered",
		"company", req.Company,
		"chunks", len(chunks),
		"embed_tokens", emb.Tokens,
		"input_tokens", completion.InputTokens,
		"output_tokens", completion.OutputTokens)

	return &domain.QueryResult{
		Answer:  completion.Text,
		Sources: dedupSources(chunks, u.cfg.MaxSources),
		Cost:    cost,
		Metadata: domain.QueryMetadata{
			ChunksUsed:         len(chunks),
			TotalContextLength: utf8.RuneCountInString(contextBlock),
			Model:              u.synth.ModelName(),
		},
	}, nil
}

// prepare validates req and returns the trimmed question, the effective topK
// and the snapshot to search. A zero TopK means the configured default.
func (u *RetrieveUseCase) prepare(req domain.QueryRequest) (string, int, *Snapshot, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", 0, nil, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}
	topK := req.TopK
	if topK == 0 {
		topK = u.cfg.TopK
	}
	if topK < 0 {
		return "", 0, nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}

	snap := u.index.Snapshot()
	if snap == nil {
		return "", 0, nil, domain.ErrIndexNotLoaded
	}
	return question, topK, snap, nil
}

// search walks neighbours by ascending distance and keeps the first topK that
// pass the company filter. Filtered searches look at topK*overfetch candidates.
func (u *RetrieveUseCase) search(snap *Snapshot, query []float32, company string, topK int) ([]RetrievedChunk, error) {
	breadth := topK
	if company != "" {
		breadth = topK * u.cfg.OverfetchFactor
	}

	neighbours, err := snap.Index.Search(query, min(breadth, snap.Len()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s stage: %v", domain.ErrConfiguration, domain.StageSearch, err)
	}

	var out []RetrievedChunk
	for _, n := range neighbours {
		if len(out) == topK {
			break
		}
		meta := snap.Metas[n.Position]
		if company != "" && !strings.EqualFold(meta.Company, company) {
			continue
		}
		out = append(out, RetrievedChunk{
			Position: n.Position,
			Distance: n.Distance,
			Text:     snap.Texts[n.Position],
			Meta:     meta,
		})
	}
	return out, nil
}

// Retrieve returns the chunks Query would use, without calling the completion service.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, req domain.QueryRequest) ([]RetrievedChunk, error) {
	question, topK, snap, err := u.prepare(req)
	if err != nil {
		return nil, err
	}

	emb, err := u.embedder.Embed(ctx, question)
	if err != nil {
		return nil, domain.Upstream(domain.StageEmbedding, err)
	}
	u.addQueryCost(tokenCost(emb.Tokens, u.pricing.EmbeddingPerMillion))

	return u.search(snap, emb.Vector, strings.TrimSpace(req.Company), topK)
}

// QueryCost returns the query spend accumulated by this process.
func (u *RetrieveUseCase) QueryCost() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.queryCost
}

func (u *RetrieveUseCase) addQueryCost(c float64) {
	u.mu.Lock()
	u.queryCost += c
	u.mu.Unlock()
}

// dedupSources keeps the first occurrence of each transcript, up to max.
func dedupSources(chunks []RetrievedChunk, max int) []domain.Source {
	seen := make(map[domain.Source]bool)
	sources := []domain.Source{}
	for _, c := range chunks {
		s := domain.SourceOf(c.Meta)
		if seen[s] {
			continue
		}
		seen[s] = true
		sources = append(sources, s)
		if len(sources) == max {
			break
		}
	}
	return sources
}
