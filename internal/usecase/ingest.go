package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/step6836/CloudRAG/internal/adapter/fs"
	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

// IngestUseCase loads transcript files into the document store.
type IngestUseCase struct {
	docs   port.DocumentStore
	walker *fs.Walker
	logger *slog.Logger
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(docs port.DocumentStore, walker *fs.Walker, logger *slog.Logger) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{docs: docs, walker: walker, logger: logger}
}

// SkippedFile is a file that was not ingested.
type SkippedFile struct {
	Path   string
	Reason string
}

// IngestResult contains the results of an ingest run.
type IngestResult struct {
	FilesFound int
	Inserted   []domain.TranscriptInfo
	Skipped    []SkippedFile
}

// Ingest inserts every matching transcript file under root, replacing
// transcripts with the same company, quarter and fiscal year.
func (u *IngestUseCase) Ingest(ctx context.Context, root string) (*IngestResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestResult{FilesFound: len(files)}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name, err := fs.ParseTranscriptName(file.Path)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{Path: file.RelPath, Reason: err.Error()})
			continue
		}

		text, err := fs.ReadFile(file.Path)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedFile{Path: file.RelPath, Reason: err.Error()})
			continue
		}

		id, err := u.docs.InsertDocument(ctx, domain.NewDocument{
			Company:    name.Company,
			Quarter:    name.Quarter,
			FiscalYear: name.FiscalYear,
			Text:       text,
		})
		if err != nil {
			return result, fmt.Errorf("failed to insert %s: %w", file.RelPath, err)
		}

		u.logger.Debug("ingested transcript", "path", file.RelPath, "id", id)
		result.Inserted = append(result.Inserted, domain.TranscriptInfo{
			ID:         id,
			Company:    name.Company,
			Quarter:    name.Quarter,
			FiscalYear: name.FiscalYear,
		})
	}
	return result, nil
}

// Prune keeps the newest keep transcripts per company. The index is
// append-only, so a prune is followed by a consistency warning until the
// index is rebuilt.
func (u *IngestUseCase) Prune(ctx context.Context, keep int) (int, error) {
	n, err := u.docs.DeleteOldQuarters(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}
	u.logger.Info("pruned transcripts", "deleted", n, "keep", keep)
	return n, nil
}
