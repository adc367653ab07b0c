package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/adapter/fs"
	"github.com/step6836/CloudRAG/internal/usecase"
)

var pruneKeep int

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Load transcript files into the database",
	Long: `Load transcript files named company_quarter_fy.txt (for example
salesforce_q2_fy26.txt) into the transcript database. A file for a
company and quarter that is already stored replaces the stored transcript.

Examples:
  cloudrag ingest                     # Load from the configured transcripts directory
  cloudrag ingest ~/Downloads/calls   # Load from a specific directory`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Keep only the most recent quarters per company",
	Long: `Delete all but the newest transcripts of each company. The vector index is
append-only, so run 'cloudrag refresh --rebuild' afterwards.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 4, "transcripts to keep per company")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	path := cfg.TranscriptsDir(GetRootDir())
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	docs, err := openDocuments()
	if err != nil {
		return err
	}
	defer docs.Close()

	ingest := usecase.NewIngestUseCase(docs, fs.NewWalker(cfg.Ingest.Includes, cfg.Ingest.Excludes), nil)

	fmt.Printf("Scanning %s...\n", path)
	result, err := ingest.Ingest(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Files found:          %d\n", result.FilesFound)
	fmt.Printf("  Transcripts stored:   %d\n", len(result.Inserted))
	fmt.Printf("  Files skipped:        %d\n", len(result.Skipped))

	if len(result.Skipped) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, s := range result.Skipped {
			fmt.Printf("  - %s: %s\n", s.Path, s.Reason)
		}
	}

	fmt.Println("\nRun 'cloudrag refresh' to embed the new transcripts.")
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	docs, err := openDocuments()
	if err != nil {
		return err
	}
	defer docs.Close()

	ingest := usecase.NewIngestUseCase(docs, nil, nil)
	n, err := ingest.Prune(cmd.Context(), pruneKeep)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d transcripts, keeping %d per company.\n", n, pruneKeep)
	if n > 0 {
		fmt.Println("Run 'cloudrag refresh --rebuild' to drop their vectors from the index.")
	}
	return nil
}
