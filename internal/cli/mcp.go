package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/adapter/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve transcript tools over MCP (stdio)",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing the
ask_transcripts and transcript_stats tools.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.load(ctx); err != nil {
		return err
	}
	return mcp.NewServer(a.retrieve, a.stats).Run(ctx)
}
