package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <document>...",
		Short: "Check documents once and report conflicts",
		Long: `Load the documents and their includes, check every file against disk
and print tracked files, watch health and detected conflicts.

Nothing is resolved and nothing is written. Use 'mdsentry watch' to resolve.`,
		Example: `  mdsentry status notes/board.md
  mdsentry status --json notes/board.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusReport is the JSON shape of `status --json`.
type statusReport struct {
	Status    coordinator.Status       `json:"status"`
	Conflicts coordinator.ConflictView `json:"conflicts"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, docs []string, jsonOutput bool) error {
	cfg, err := loadConfig(docs)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, engineOptions{})
	if err != nil {
		return formatError(cmd, err)
	}
	defer func() { _ = e.Close() }()

	if err := e.register(ctx, docs); err != nil {
		return formatError(cmd, err)
	}
	if err := e.coord.CheckNow(ctx, ""); err != nil {
		return formatError(cmd, err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
	report := statusReport{
		Status:    e.coord.GetSystemStatus(),
		Conflicts: e.coord.Conflicts(),
	}
	if jsonOutput {
		return renderer.RenderJSON(report)
	}
	if err := renderer.Render(report.Status); err != nil {
		return err
	}
	return renderer.RenderConflicts(report.Conflicts)
}
