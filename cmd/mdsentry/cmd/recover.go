package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mdsentry/internal/config"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/ui"
)

func newRecoverCmd() *cobra.Command {
	var (
		jsonOutput bool
		show       string
		discard    string
		prune      string
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Inspect and manage emergency backups",
		Long: `Emergency backups hold unsaved edits snapshotted while documents were
watched. After a crash, 'mdsentry watch' offers each backup newer than its
file as a conflict. This command inspects them outside a watch session.

--discard and --prune need the recovery directory lock, so they fail while
a watch session is running.`,
		Example: `  # List backups
  mdsentry recover

  # Print the saved content of one backup
  mdsentry recover --show notes/board.md

  # Delete one backup
  mdsentry recover --discard notes/board.md

  # Delete backups older than a week
  mdsentry recover --prune 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			m := recovery.NewManager(cfg.Recovery.Dir)

			switch {
			case show != "":
				return runRecoverShow(cmd, m, show)
			case discard != "":
				return runRecoverDiscard(cmd, m, discard)
			case cmd.Flags().Changed("prune"):
				return runRecoverPrune(cmd, m, prune, cfg)
			}

			backups, err := m.List()
			if err != nil {
				return formatError(cmd, err)
			}
			renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				if backups == nil {
					backups = []recovery.EmergencyBackup{}
				}
				return renderer.RenderJSON(backups)
			}
			return renderer.RenderBackups(backups)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&show, "show", "", "Print the saved content for `path`")
	cmd.Flags().StringVar(&discard, "discard", "", "Delete the backup for `path`")
	cmd.Flags().StringVar(&prune, "prune", "", "Delete backups older than `duration` (default: recovery.prune_after)")
	cmd.MarkFlagsMutuallyExclusive("show", "discard", "prune")

	return cmd
}

func runRecoverShow(cmd *cobra.Command, m *recovery.Manager, path string) error {
	p, err := filestate.Canonical(path)
	if err != nil {
		return err
	}
	b, ok, err := m.Load(p)
	if err != nil {
		return formatError(cmd, err)
	}
	if !ok {
		return fmt.Errorf("no emergency backup for %s", p)
	}
	_, err = cmd.OutOrStdout().Write(b.SnapshotContent)
	return err
}

func runRecoverDiscard(cmd *cobra.Command, m *recovery.Manager, path string) error {
	p, err := filestate.Canonical(path)
	if err != nil {
		return err
	}
	if err := m.Open(); err != nil {
		return formatError(cmd, err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Discard(p); err != nil {
		return formatError(cmd, err)
	}
	newOutput(cmd).Successf("Discarded backup for %s", p)
	return nil
}

func runRecoverPrune(cmd *cobra.Command, m *recovery.Manager, value string, cfg *config.Config) error {
	if value == "" {
		value = cfg.Recovery.PruneAfter
	}
	age, err := time.ParseDuration(value)
	if err != nil || age <= 0 {
		return formatError(cmd, serrors.ValidationError(fmt.Sprintf("invalid prune age %q", value), err))
	}
	if err := m.Open(); err != nil {
		return formatError(cmd, err)
	}
	defer func() { _ = m.Close() }()

	n, err := m.Prune(age)
	if err != nil {
		return formatError(cmd, err)
	}
	newOutput(cmd).Successf("Removed %d backup(s) older than %s", n, age)
	return nil
}
