package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/telemetry"
	"github.com/Aman-CERP/mdsentry/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show conflict statistics",
		Long: `Summarize conflicts detected and resolved by earlier watch and serve
sessions. Counts are kept per day in a local database.`,
		Example: `  mdsentry stats
  mdsentry stats --days 30 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, days, jsonOutput, time.Now())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include, ending today")

	return cmd
}

func runStats(cmd *cobra.Command, days int, jsonOutput bool, now time.Time) error {
	if days < 1 {
		return formatError(cmd, serrors.ValidationError(fmt.Sprintf("--days must be at least 1, got %d", days), nil))
	}
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	// Nothing recorded yet: report an empty range rather than creating a database.
	if _, err := os.Stat(cfg.Telemetry.DBPath); os.IsNotExist(err) {
		empty := telemetry.Totals{From: from, To: to}
		if jsonOutput {
			return renderer.RenderJSON(empty)
		}
		return renderer.RenderStats(empty)
	}

	store, err := telemetry.OpenSQLiteStore(cfg.Telemetry.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	totals, err := store.Totals(from, to)
	if err != nil {
		return err
	}
	if jsonOutput {
		return renderer.RenderJSON(totals)
	}
	return renderer.RenderStats(totals)
}
