package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Build the reference index from a document or directory",
	Long: `Load the PDF, text, markdown or HTML documents at path, chunk and embed
them, and replace the contents of the configured vector store.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	return withApp(ctx, func(ctx context.Context, a *app) error {
		report, err := a.indexer.Build(ctx, args[0])
		if err != nil {
			return fmt.Errorf("build index: %w", err)
		}
		a.recordIndexBuilt(args[0], report)
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d documents (%d pages).\n",
			report.ChunksIndexed, report.Documents, report.Pages)
		return nil
	})
}
