package cli

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/step6836/CloudRAG/internal/adapter/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serve the query, listing, stats and refresh endpoints over HTTP.
The index file stays locked while the server runs; trigger refreshes with
POST /refresh instead of 'cloudrag refresh'.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	serverCfg := a.cfg.Server
	if serveAddr != "" {
		serverCfg.Addr = serveAddr
	}
	return httpapi.New(a.retrieve, a.stats, a.index, slog.Default()).ListenAndServe(ctx, serverCfg)
}
