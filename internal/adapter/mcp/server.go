package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/step6836/CloudRAG/internal/usecase"
)

// Version is the MCP server version.
const Version = "1.0.0"

// Server exposes transcript questions and system stats as MCP tools.
type Server struct {
	retrieve *usecase.RetrieveUseCase
	stats    *usecase.StatsUseCase
	server   *mcp.Server
}

// NewServer creates a new MCP server.
func NewServer(retrieve *usecase.RetrieveUseCase, stats *usecase.StatsUseCase) *Server {
	s := &Server{
		retrieve: retrieve,
		stats:    stats,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "cloudrag",
			Version: Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
