package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/adapter/chunker"
	"github.com/step6836/CloudRAG/internal/adapter/docstore"
	"github.com/step6836/CloudRAG/internal/adapter/embedding"
	"github.com/step6836/CloudRAG/internal/adapter/llm"
	"github.com/step6836/CloudRAG/internal/adapter/store"
	"github.com/step6836/CloudRAG/internal/port"
	"github.com/step6836/CloudRAG/internal/usecase"
)

// app holds the stores and use cases a command needs. Close releases them.
type app struct {
	cfg        *config.Config
	docs       *docstore.SQLiteStore
	indexStore *store.BoltIndexStore
	embedder   port.Embedder
	completer  port.Completer

	index    *usecase.IndexUseCase
	retrieve *usecase.RetrieveUseCase
	stats    *usecase.StatsUseCase
}

// openDocuments opens only the document database.
func openDocuments() (*docstore.SQLiteStore, error) {
	path := GetConfig().DatabasePath(GetRootDir())
	docs, err := docstore.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}
	return docs, nil
}

// openApp wires the full stack. withCompleter is false for commands that
// never generate answers, so they work without completion credentials.
func openApp(withCompleter bool) (*app, error) {
	cfg := GetConfig()
	a := &app{cfg: cfg}

	var err error
	a.embedder, err = newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if withCompleter {
		a.completer, err = newCompleter(cfg.Completion)
		if err != nil {
			return nil, err
		}
	}

	chk, err := chunker.NewWindowChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	a.docs, err = openDocuments()
	if err != nil {
		return nil, err
	}

	indexPath := cfg.IndexPath(GetRootDir())
	if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	a.indexStore, err = store.NewBoltIndexStore(indexPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	a.index = usecase.NewIndexUseCase(a.indexStore, a.docs, a.embedder, chk, usecase.IndexOptions{
		Fingerprint:         store.ComputeFingerprint(cfg),
		EmbeddingPerMillion: cfg.Pricing.EmbeddingPerMillion,
		BatchSize:           cfg.Embedding.BatchSize,
		Logger:              slog.Default(),
	})

	generationModel := cfg.Completion.Model
	if a.completer != nil {
		a.retrieve = usecase.NewRetrieveUseCase(a.index, a.embedder, usecase.NewSynthesizer(a.completer),
			cfg.Retrieve, cfg.Pricing, slog.Default())
		generationModel = a.completer.ModelName()
	}

	var queries usecase.QueryCostSource
	if a.retrieve != nil {
		queries = a.retrieve
	}
	a.stats = usecase.NewStatsUseCase(a.docs, a.index, queries, a.embedder.ModelName(), generationModel)
	return a, nil
}

// load reads the persisted index so queries can run.
func (a *app) load(ctx context.Context) error {
	if _, err := a.index.Load(ctx); err != nil {
		return fmt.Errorf("failed to load index: %w", err)
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.indexStore != nil {
		errs = append(errs, a.indexStore.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	return errors.Join(errs...)
}

func newEmbedder(ec config.EmbeddingConfig) (port.Embedder, error) {
	switch ec.Provider {
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(ec)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return e, nil
	case "mock":
		return embedding.NewMockEmbedder(ec.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", ec.Provider)
	}
}

func newCompleter(cc config.CompletionConfig) (port.Completer, error) {
	switch cc.Provider {
	case "openai":
		c, err := llm.NewClient(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion client: %w", err)
		}
		return c, nil
	case "mock":
		return llm.NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cc.Provider)
	}
}
