package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mdsentry/internal/ui"
)

func newGraphCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "graph <document>...",
		Short: "Show the include graph",
		Long: `Print include edges between the documents and the files they include,
the order in which they load, and includes rejected because they would
form a cycle.`,
		Example: `  mdsentry graph notes/board.md
  mdsentry graph --json notes/board.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}
			e, err := openEngine(ctx, cfg, engineOptions{})
			if err != nil {
				return formatError(cmd, err)
			}
			defer func() { _ = e.Close() }()

			if err := e.register(ctx, args); err != nil {
				return formatError(cmd, err)
			}

			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				return renderer.RenderJSON(e.coord.Graph())
			}
			return renderer.RenderGraph(e.coord.Graph())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
