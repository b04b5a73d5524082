// Package ui provides terminal components for conflict prompts and status display.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// Config configures prompters and renderers.
type Config struct {
	Output     io.Writer
	Input      io.Reader
	ForcePlain bool
	NoColor    bool
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces the numbered plain-text prompter.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithInput sets where answers are read from.
func WithInput(in io.Reader) ConfigOption {
	return func(c *Config) {
		c.Input = in
	}
}

// NewConfig creates a new Config with the given output and options.
// Input defaults to os.Stdin.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
		Input:  os.Stdin,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if DetectNoColor() {
		cfg.NoColor = true
	}
	return cfg
}

// NewPrompter returns an interactive prompter for terminals, and a numbered
// plain-text prompter for CI environments, pipes, or when --plain is given.
func NewPrompter(cfg Config) resolution.Prompter {
	if cfg.ForcePlain || DetectCI() {
		return NewPlainPrompter(cfg)
	}
	if !IsTTY(cfg.Output) || !IsTerminalInput(cfg.Input) {
		return NewPlainPrompter(cfg)
	}
	return NewTUIPrompter(cfg)
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// IsTerminalInput checks if input is a terminal.
func IsTerminalInput(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

var actionLabels = map[resolution.Action]string{
	resolution.ActionReload:             "Reload from disk",
	resolution.ActionKeepMineOverwrite:  "Keep mine and overwrite disk",
	resolution.ActionIgnoreOnce:         "Ignore this change",
	resolution.ActionReloadDiscardMine:  "Reload and discard my edits",
	resolution.ActionSaveCopyElsewhere:  "Save my copy elsewhere",
	resolution.ActionRecreateFromMemory: "Recreate from memory",
	resolution.ActionFindAlternative:    "Point includes at another file",
	resolution.ActionRemoveReference:    "Remove the reference",
	resolution.ActionUseNewFile:         "Use the new file",
	resolution.ActionKeepExistingRef:    "Keep the existing reference",
	resolution.ActionBreakEdge:          "Break an include edge",
	resolution.ActionViewGraph:          "View the cycle",
	resolution.ActionCancelParse:        "Cancel this parse",
	resolution.ActionRetry:              "Retry",
	resolution.ActionContinueReadOnly:   "Continue read-only",
	resolution.ActionRetryNativeWatch:   "Retry native watching",
	resolution.ActionSwitchToPolling:    "Stay on polling",
	resolution.ActionDismiss:            "Dismiss",
}

// ActionLabel returns the menu text for an action.
func ActionLabel(a resolution.Action) string {
	if l, ok := actionLabels[a]; ok {
		return l
	}
	return string(a)
}

// argumentPrompt returns the question asked after choosing a, or "" when a
// takes no argument.
func argumentPrompt(c *conflict.Conflict, a resolution.Action) string {
	switch a {
	case resolution.ActionSaveCopyElsewhere:
		return "Save copy to"
	case resolution.ActionFindAlternative:
		return "Replacement file"
	case resolution.ActionBreakEdge:
		if c.Cycle != nil && len(c.Cycle.Members) > 1 {
			return "Break the edge leaving which file (empty: " + c.Cycle.Edge.From + ")"
		}
		return ""
	default:
		return ""
	}
}

// argumentRequired reports whether an empty answer is rejected.
func argumentRequired(a resolution.Action) bool {
	return a == resolution.ActionSaveCopyElsewhere || a == resolution.ActionFindAlternative
}

// remember builds the preference for a choice, or nil when none was asked
// for or the action cannot be remembered.
func remember(c *conflict.Conflict, a resolution.Action, durable, session bool) *resolution.Preference {
	if (!durable && !session) || !a.Rememberable() {
		return nil
	}
	return &resolution.Preference{
		ScopeKey:              c.Path,
		Kind:                  c.Kind,
		Action:                a,
		RememberAcrossSession: durable,
	}
}
