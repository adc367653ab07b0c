package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/step6836/CloudRAG/internal/domain"
)

// AskInput is the input schema for the ask_transcripts tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"the question to answer from earnings call transcripts"`
	Company  string `json:"company,omitempty" jsonschema:"restrict retrieval to one company"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of transcript chunks to use (default 6)"`
}

// AskOutput is the output schema for the ask_transcripts tool.
type AskOutput struct {
	Answer     string          `json:"answer"`
	Sources    []domain.Source `json:"sources"`
	ChunksUsed int             `json:"chunks_used"`
	Cost       float64         `json:"cost"`
}

// StatsInput is the input schema for the transcript_stats tool.
type StatsInput struct{}

// StatsOutput is the output schema for the transcript_stats tool.
type StatsOutput struct {
	Transcripts     int                   `json:"total_transcripts"`
	Companies       int                   `json:"total_companies"`
	Chunks          int                   `json:"total_chunks"`
	IndexVectors    int                   `json:"index_vectors"`
	ByCompany       []domain.CompanyStats `json:"by_company"`
	EmbeddingCost   float64               `json:"total_embedding_cost"`
	QueryCost       float64               `json:"total_query_cost"`
	TotalCost       float64               `json:"total_cost"`
	EmbeddingModel  string                `json:"embedding_model"`
	GenerationModel string                `json:"generation_model"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_transcripts",
		Description: "Answer a question using indexed earnings call transcripts, citing the transcripts used",
	}, s.handleAsk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "transcript_stats",
		Description: "Report transcript counts, index size and spend",
	}, s.handleStats)
}

func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	result, err := s.retrieve.Query(ctx, domain.QueryRequest{
		Question: input.Question,
		Company:  input.Company,
		TopK:     input.TopK,
	})
	if err != nil {
		return nil, AskOutput{}, err
	}

	return nil, AskOutput{
		Answer:     result.Answer,
		Sources:    result.Sources,
		ChunksUsed: result.Metadata.ChunksUsed,
		Cost:       result.Cost,
	}, nil
}

func (s *Server) handleStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}

	return nil, StatsOutput{
		Transcripts:     stats.TotalDocuments,
		Companies:       stats.TotalCompanies,
		Chunks:          stats.TotalChunks,
		IndexVectors:    stats.IndexVectors,
		ByCompany:       stats.PerCompany,
		EmbeddingCost:   stats.TotalEmbeddingCost,
		QueryCost:       stats.TotalQueryCost,
		TotalCost:       stats.TotalCost,
		EmbeddingModel:  stats.EmbeddingModel,
		GenerationModel: stats.GenerationModel,
	}, nil
}
