package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/domain"
)

var (
	queryText         string
	queryCompany      string
	queryTopK         int
	queryJSON         bool
	queryRetrieveOnly bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Ask a question about the indexed transcripts",
	Long: `Answer a question from the most relevant transcript excerpts.

Examples:
  cloudrag query -q "What did management say about AI demand?"
  cloudrag query -q "Cloud revenue growth" --company Salesforce --top-k 8
  cloudrag query -q "Guidance" --retrieve-only --json`,
	Args: cobra.NoArgs,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "question (required)")
	queryCmd.Flags().StringVarP(&queryCompany, "company", "c", "", "only use transcripts from this company")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of excerpts (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryRetrieveOnly, "retrieve-only", false, "print the retrieved excerpts without generating an answer")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.load(ctx); err != nil {
		return err
	}

	req := domain.QueryRequest{Question: queryText, Company: queryCompany, TopK: queryTopK}

	if queryRetrieveOnly {
		chunks, err := a.retrieve.Retrieve(ctx, req)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if queryJSON {
			output, _ := json.MarshalIndent(chunks, "", "  ")
			fmt.Println(string(output))
			return nil
		}
		if len(chunks) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for i, c := range chunks {
			fmt.Printf("--- [%d] %s %s %s (distance: %.4f) ---\n", i+1, c.Meta.Company, c.Meta.Quarter, c.Meta.FiscalYear, c.Distance)
			fmt.Println(excerpt(c.Text, 500))
			fmt.Println()
		}
		return nil
	}

	result, err := a.retrieve.Query(ctx, req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println(result.Answer)
	fmt.Println()
	if len(result.Sources) > 0 {
		labels := make([]string, len(result.Sources))
		for i, s := range result.Sources {
			labels[i] = fmt.Sprintf("%s %s %s", s.Company, s.Quarter, s.FiscalYear)
		}
		fmt.Printf("Sources: %s\n", strings.Join(labels, "; "))
	}
	fmt.Printf("Chunks used: %d  Context: %d chars  Model: %s  Cost: $%.6f\n",
		result.Metadata.ChunksUsed, result.Metadata.TotalContextLength, result.Metadata.Model, result.Cost)
	return nil
}

// excerpt shortens s to at most n runes, marking a cut with "...".
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
