package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/adapter/chunker"
	"github.com/step6836/CloudRAG/internal/adapter/docstore"
	"github.com/step6836/CloudRAG/internal/adapter/embedding"
	"github.com/step6836/CloudRAG/internal/adapter/store"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
	"github.com/step6836/CloudRAG/internal/usecase"
)

func main() {
	projectDir := flag.String("dir", ".", "Project directory")
	query := flag.String("q", "", "Query to test")
	company := flag.String("company", "", "Restrict retrieval to one company")
	topK := flag.Int("k", 6, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run cmd/benchmark/main.go -dir . -q \"query\" [-company Name]")
		fmt.Println("\nReports:")
		fmt.Println("  1. Index and embedding settings")
		fmt.Println("  2. Nearest transcript excerpts with L2 distances")
		fmt.Println("  3. How many candidates the company filter kept")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*projectDir)
	if err != nil {
		fail("Error loading config", err)
	}
	if err := config.LoadEnv(*projectDir); err != nil {
		fail("Error loading .env", err)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		fail("Embedder init failed", err)
	}

	docs, err := docstore.NewSQLiteStore(cfg.DatabasePath(*projectDir))
	if err != nil {
		fail("Error opening transcript database", err)
	}
	defer docs.Close()

	indexStore, err := store.NewBoltIndexStore(cfg.IndexPath(*projectDir))
	if err != nil {
		fail("Error opening index", err)
	}
	defer indexStore.Close()

	chk, err := chunker.NewWindowChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		fail("Chunker init failed", err)
	}

	ctx := context.Background()
	index := usecase.NewIndexUseCase(indexStore, docs, embedder, chk, usecase.IndexOptions{
		Fingerprint: store.ComputeFingerprint(cfg),
	})
	snap, err := index.Load(ctx)
	if err != nil {
		fail("Error loading index", err)
	}
	if snap.Len() == 0 {
		fail("Index is empty", fmt.Errorf("run 'cloudrag refresh' first"))
	}

	retrieve := usecase.NewRetrieveUseCase(index, embedder, nil, cfg.Retrieve, cfg.Pricing, nil)

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Vectors indexed: %d\n", snap.Len())
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n", embedder.Dimension())
	fmt.Printf("Chunking: %d chars, %d overlap\n", cfg.Chunking.Size, cfg.Chunking.Overlap)
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	if *company != "" {
		fmt.Printf("Company filter: %s\n", *company)
	}
	fmt.Println(strings.Repeat("-", 70))

	chunks, err := retrieve.Retrieve(ctx, domain.QueryRequest{Question: *query, Company: *company, TopK: *topK})
	if err != nil {
		fail("Retrieval error", err)
	}
	if len(chunks) == 0 {
		fmt.Println("No matching excerpts.")
		return
	}

	fmt.Printf("Top %d matches:\n\n", len(chunks))

	var total float64
	for i, c := range chunks {
		preview := c.Text
		if r := []rune(preview); len(r) > 150 {
			preview = string(r[:150]) + "..."
		}
		preview = strings.ReplaceAll(preview, "\n", " ")
		total += float64(c.Distance)

		fmt.Printf("%d. [%.4f] %s %s %s (position %d)\n", i+1, c.Distance, c.Meta.Company, c.Meta.Quarter, c.Meta.FiscalYear, c.Position)
		fmt.Printf("   %s\n\n", preview)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average distance: %.4f\n", total/float64(len(chunks)))
	fmt.Printf("  Top-1 distance:   %.4f\n", chunks[0].Distance)
	if *company != "" && len(chunks) < *topK {
		fmt.Printf("  Filter kept %d of %d requested excerpts\n", len(chunks), *topK)
	}
	fmt.Printf("  Query cost:       $%.8f\n", retrieve.QueryCost())
}

func newEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
