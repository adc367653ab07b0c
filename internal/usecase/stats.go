package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// QueryCostSource reports the query spend of this process.
type QueryCostSource interface {
	QueryCost() float64
}

// StatsUseCase merges store counts, the cost ledger and the index size.
// It never writes.
type StatsUseCase struct {
	docs            port.DocumentStore
	index           SnapshotSource
	queries         QueryCostSource
	embeddingModel  string
	generationModel string
}

// NewStatsUseCase creates a new stats use case.
func NewStatsUseCase(docs port.DocumentStore, index SnapshotSource, queries QueryCostSource, embeddingModel, generationModel string) *StatsUseCase {
	return &StatsUseCase{
		docs:            docs,
		index:           index,
		queries:         queries,
		embeddingModel:  embeddingModel,
		generationModel: generationModel,
	}
}

// Cost returns the lifetime embedding spend plus this session's query spend.
func (u *StatsUseCase) Cost(ctx context.Context) (*domain.CostSummary, error) {
	embedding, err := embeddingSpend(ctx, u.docs)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cost: %w", err)
	}
	query := 0.0
	if u.queries != nil {
		query = u.queries.QueryCost()
	}
	return &domain.CostSummary{
		TotalEmbeddingCost: embedding,
		TotalQueryCost:     query,
		TotalCost:          embedding + query,
	}, nil
}

// Stats returns the full system report.
func (u *StatsUseCase) Stats(ctx context.Context) (*domain.SystemStats, error) {
	storeStats, err := u.docs.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read store stats: %w", err)
	}
	cost, err := u.Cost(ctx)
	if err != nil {
		return nil, err
	}

	model := u.embeddingModel
	if v, ok, err := u.docs.GetMeta(ctx, domain.MetaEmbeddingModel); err == nil && ok && v.String() != "" {
		model = v.String()
	}

	return &domain.SystemStats{
		StoreStats:      storeStats,
		CostSummary:     *cost,
		IndexVectors:    u.index.Snapshot().Len(),
		EmbeddingModel:  model,
		GenerationModel: u.generationModel,
	}, nil
}

// Companies lists companies with their transcript count and quarter labels,
// most recent first.
func (u *StatsUseCase) Companies(ctx context.Context) ([]domain.CompanyInfo, error) {
	names, err := u.docs.Companies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}

	companies := make([]domain.CompanyInfo, 0, len(names))
	for _, name := range names {
		docs, err := u.docs.ListDocuments(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list transcripts for %s: %w", name, err)
		}
		info := domain.CompanyInfo{Name: name}
		for _, d := range docs {
			// The company filter ignores case; names here are exact.
			if d.Company != name {
				continue
			}
			info.TranscriptCount++
			info.Quarters = append(info.Quarters, d.Quarter+" "+d.FiscalYear)
		}
		companies = append(companies, info)
	}
	return companies, nil
}

// Transcripts lists one company's transcripts without their text.
func (u *StatsUseCase) Transcripts(ctx context.Context, company string) ([]domain.TranscriptInfo, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, fmt.Errorf("%w: company is required", domain.ErrInvalidInput)
	}

	docs, err := u.docs.ListDocuments(ctx, company)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no transcripts for %s", domain.ErrNotFound, company)
	}

	out := make([]domain.TranscriptInfo, len(docs))
	for i, d := range docs {
		out[i] = domain.TranscriptInfo{
			ID:             d.ID,
			Company:        d.Company,
			Quarter:        d.Quarter,
			FiscalYear:     d.FiscalYear,
			WordCount:      d.WordCount,
			SourceURL:      d.SourceURL,
			TranscriptDate: d.TranscriptDate,
			CreatedAt:      d.CreatedAt,
		}
	}
	return out, nil
}
