package cli

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/usecase"
)

var (
	refreshRebuild bool
	refreshJSON    bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Embed new transcripts into the vector index",
	Long: `Bring the vector index up to date with the transcript database.
Only transcripts that were never embedded are chunked and embedded; a second
refresh with nothing new makes no API calls. If the database holds fewer
chunks than the index (for example after a prune) a warning is printed and
nothing is changed until you rebuild.

Examples:
  cloudrag refresh            # Embed new transcripts
  cloudrag refresh --rebuild  # Re-embed everything`,
	Args: cobra.NoArgs,
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().BoolVar(&refreshRebuild, "rebuild", false, "re-embed every transcript and replace the index")
	refreshCmd.Flags().BoolVar(&refreshJSON, "json", false, "output the report as JSON")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	progress := newProgress("Embedding")

	var report *usecase.RefreshReport
	if refreshRebuild {
		report, err = a.index.Rebuild(ctx, progress)
	} else {
		report, err = a.index.Refresh(ctx, progress)
	}
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if refreshJSON {
		output, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	switch report.Mode {
	case usecase.ModeNoop:
		fmt.Printf("Index is up to date (%d vectors).\n", report.IndexAfter)
	case usecase.ModeWarning:
		fmt.Printf("Warning: %s\n", report.Warning)
		fmt.Println("Run 'cloudrag refresh --rebuild' to re-embed the current transcripts.")
	default:
		fmt.Printf("\nRefresh complete (%s):\n", report.Mode)
		fmt.Printf("  Transcripts added: %d\n", report.DocumentsAdded)
		fmt.Printf("  Chunks embedded:   %d\n", report.ChunksAdded)
		fmt.Printf("  Index size:        %d -> %d\n", report.IndexBefore, report.IndexAfter)
		fmt.Printf("  Tokens:            %d\n", report.Tokens)
		fmt.Printf("  Cost:              $%.6f\n", report.Cost)
	}
	fmt.Printf("\nIndex stored at: %s\n", a.indexStore.Path())
	return nil
}

// newProgress returns a ProgressFunc that draws a bar with an ETA once the
// total is known.
func newProgress(label string) usecase.ProgressFunc {
	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	return func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]"+label+"[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			elapsed := time.Since(startTime)
			rate := float64(done) / elapsed.Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]%s[reset] ETA: %s", label, formatDuration(eta)))
			}
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
