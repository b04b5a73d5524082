package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/ui"
)

func newWatchCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <document>...",
		Short: "Watch documents and resolve conflicts interactively",
		Long: `Watch one or more Markdown documents together with every file they
include. When a file changes on disk, disappears, becomes unreadable, or an
include would form a cycle, mdsentry asks what to do.

Emergency backups left behind by a crashed session are offered first.
Choices marked "always" are stored and applied automatically next time.`,
		Example: `  # Watch a single document
  mdsentry watch notes/board.md

  # Line-oriented prompts (no menus)
  mdsentry watch --plain README.md docs/guide.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, args, plain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Use numbered prompts instead of the interactive menu")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, docs []string, plain bool) error {
	cfg, err := loadConfig(docs)
	if err != nil {
		return err
	}

	prompter := ui.NewPrompter(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(noColor),
		ui.WithInput(cmd.InOrStdin()),
	))

	e, err := openEngine(ctx, cfg, engineOptions{
		recovery:    true,
		preferences: true,
		telemetry:   true,
		prompter:    prompter,
	})
	if err != nil {
		return formatError(cmd, err)
	}
	defer func() {
		if e.recovery != nil {
			if err := e.recovery.SnapshotAll(e.coord.UnsavedBuffers); err != nil {
				slog.Warn("final snapshot failed", slog.String("error", err.Error()))
			}
		}
		if err := e.Close(); err != nil {
			slog.Warn("shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := e.register(ctx, docs); err != nil {
		return formatError(cmd, err)
	}

	st := e.coord.GetSystemStatus()
	out := newOutput(cmd)
	out.Statusf("", "Watching %d document(s), %d file(s)", len(st.Documents), st.TrackedFiles)
	if st.RecoveredBackups > 0 {
		out.Warningf("Found %d emergency backup(s) from an earlier session", st.RecoveredBackups)
	}
	out.Hint("Press Ctrl+C to stop")

	if err := e.coord.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// formatError prints err with its suggestion and returns it for the exit code.
func formatError(cmd *cobra.Command, err error) error {
	var se *serrors.SentryError
	if errors.As(err, &se) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), serrors.FormatForCLI(err))
		cmd.SilenceErrors = true
	}
	return err
}
