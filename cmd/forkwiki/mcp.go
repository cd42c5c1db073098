package main

import (
	"context"

	wikimcp "forkwiki/pkg/mcp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the wiki as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				ws.logger.Info("Starting MCP server", zap.String("identity", string(ws.coord.Identity())))
				return wikimcp.Serve(wikimcp.NewServer(ws.coord))
			})
		},
	}
}
