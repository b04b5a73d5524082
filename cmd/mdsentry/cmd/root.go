// Package cmd provides the CLI commands for mdsentry.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/mdsentry/internal/logging"
	"github.com/Aman-CERP/mdsentry/internal/output"
	"github.com/Aman-CERP/mdsentry/internal/profiling"
	"github.com/Aman-CERP/mdsentry/internal/ui"
	"github.com/Aman-CERP/mdsentry/pkg/version"
)

// Global flags
var (
	debugMode      bool
	noColor        bool
	loggingCleanup func()
)

// Profiling flags
var (
	profileOpts profiling.Options
	profile     *profiling.Session
)

// NewRootCmd creates the root command for the mdsentry CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mdsentry",
		Short: "Keep Markdown documents and their includes in sync with disk",
		Long: `mdsentry watches Markdown documents and every file they include,
detects when disk and editor disagree, and asks how to resolve each conflict.

Includes are written as !!!include(path)!!!, !!!columninclude(path)!!! and
!!!taskinclude(path)!!!. Unsaved edits are snapshotted so they survive a crash.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("mdsentry version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.mdsentry/logs/")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Goroutine, "profile-goroutines", "", "Write goroutine stacks to file on exit")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts requested profiles and installs the
// process logger. serve configures its own file-only logger because stdout
// belongs to JSON-RPC.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profile = s
	}

	if cmd.Name() == "serve" {
		return nil
	}
	if !debugMode {
		logging.SetupMinimal()
		return nil
	}

	logger, cleanup, err := logging.Setup(logging.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("Debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profile != nil {
		err = profile.Stop()
		profile = nil
	}
	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// newOutput returns a status writer for cmd. Icons are dropped when color
// is off or stdout is not a terminal.
func newOutput(cmd *cobra.Command) *output.Writer {
	w := cmd.OutOrStdout()
	return output.New(w, noColor || ui.DetectNoColor() || !ui.IsTTY(w))
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
