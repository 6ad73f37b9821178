package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/carebridge/mcp"
	"github.com/sweetpotato0/carebridge/rag/indexer"
)

var mcpAllowIndex bool

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve process_turn (and optionally build_index) over MCP stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout. Logs go to stderr
so they do not interfere with the protocol stream.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpAllowIndex, "allow-index", false, "Expose the build_index tool")
}

// auditedBuilder records every successful build.
type auditedBuilder struct{ a *app }

func (b auditedBuilder) Build(ctx context.Context, path string) (indexer.Report, error) {
	report, err := b.a.indexer.Build(ctx, path)
	if err == nil {
		b.a.recordIndexBuilt(path, report)
	}
	return report, err
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		var builder mcp.IndexBuilder
		if mcpAllowIndex {
			builder = auditedBuilder{a: a}
		}
		server := mcp.NewServer(mcp.ServerInfo{
			Name:    "carebridge",
			Title:   "CareBridge post-discharge assistant",
			Version: Version,
		}, a.router, builder, a.logger)

		a.logger.Info("serving MCP on stdio", "build_index", mcpAllowIndex)
		err := mcp.ServeStdio(ctx, server)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
