package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/usecase"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show transcript, index and cost statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Show the lifetime embedding spend",
	Args:  cobra.NoArgs,
	RunE:  runCost,
}

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List companies and their quarters",
	Args:  cobra.NoArgs,
	RunE:  runCompanies,
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts <company>",
	Short: "List a company's transcripts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscripts,
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, costCmd, companiesCmd, transcriptsCmd} {
		c.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
		rootCmd.AddCommand(c)
	}
}

func printJSON(v any) {
	output, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(output))
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.load(ctx); err != nil {
		return err
	}
	stats, err := a.stats.Stats(ctx)
	if err != nil {
		return err
	}

	if statsJSON {
		printJSON(stats)
		return nil
	}

	fmt.Printf("Transcripts:      %d\n", stats.TotalDocuments)
	fmt.Printf("Companies:        %d\n", stats.TotalCompanies)
	fmt.Printf("Words:            %d\n", stats.TotalWords)
	fmt.Printf("Chunks:           %d\n", stats.TotalChunks)
	fmt.Printf("Index vectors:    %d\n", stats.IndexVectors)
	fmt.Printf("Embedding model:  %s\n", stats.EmbeddingModel)
	fmt.Printf("Generation model: %s\n", stats.GenerationModel)
	fmt.Printf("Embedding cost:   $%.6f\n", stats.TotalEmbeddingCost)
	if len(stats.PerCompany) > 0 {
		fmt.Println("\nBy company:")
		for _, c := range stats.PerCompany {
			fmt.Printf("  %-20s %3d transcripts  %8d words\n", c.Company, c.TranscriptCount, c.TotalWords)
		}
	}
	return nil
}

func runCost(cmd *cobra.Command, args []string) error {
	docs, err := openDocuments()
	if err != nil {
		return err
	}
	defer docs.Close()

	cost, err := usecase.NewStatsUseCase(docs, nil, nil, "", "").Cost(cmd.Context())
	if err != nil {
		return err
	}

	if statsJSON {
		printJSON(cost)
		return nil
	}
	fmt.Printf("Embedding cost: $%.6f\n", cost.TotalEmbeddingCost)
	fmt.Printf("Query cost:     $%.6f (this session)\n", cost.TotalQueryCost)
	fmt.Printf("Total:          $%.6f\n", cost.TotalCost)
	return nil
}

func runCompanies(cmd *cobra.Command, args []string) error {
	docs, err := openDocuments()
	if err != nil {
		return err
	}
	defer docs.Close()

	companies, err := usecase.NewStatsUseCase(docs, nil, nil, "", "").Companies(cmd.Context())
	if err != nil {
		return err
	}

	if statsJSON {
		printJSON(companies)
		return nil
	}
	if len(companies) == 0 {
		fmt.Println("No transcripts stored. Run 'cloudrag ingest' first.")
		return nil
	}
	for _, c := range companies {
		fmt.Printf("%-20s %d transcripts: %s\n", c.Name, c.TranscriptCount, strings.Join(c.Quarters, ", "))
	}
	return nil
}

func runTranscripts(cmd *cobra.Command, args []string) error {
	docs, err := openDocuments()
	if err != nil {
		return err
	}
	defer docs.Close()

	transcripts, err := usecase.NewStatsUseCase(docs, nil, nil, "", "").Transcripts(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if statsJSON {
		printJSON(transcripts)
		return nil
	}
	for _, t := range transcripts {
		fmt.Printf("[%d] %s %s %s  %d words", t.ID, t.Company, t.Quarter, t.FiscalYear, t.WordCount)
		if t.SourceURL != "" {
			fmt.Printf("  %s", t.SourceURL)
		}
		fmt.Println()
	}
	return nil
}
