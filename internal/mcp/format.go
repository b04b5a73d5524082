package mcp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

const (
	statePending  = "pending"
	stateAwaiting = "awaiting"
)

// conflictFilter selects conflicts for list_conflicts.
type conflictFilter struct {
	path        string
	kind        conflict.Kind
	minSeverity conflict.Severity
}

func (f conflictFilter) match(c *conflict.Conflict) bool {
	if f.path != "" && c.Path != f.path {
		return false
	}
	if f.kind != "" && c.Kind != f.kind {
		return false
	}
	return c.Severity >= f.minSeverity
}

// ToConflictOutputs flattens a conflict view, blocking conflicts first.
func ToConflictOutputs(v coordinator.ConflictView, f conflictFilter) []ConflictOutput {
	out := make([]ConflictOutput, 0, len(v.Pending)+len(v.InFlight))
	for _, c := range v.InFlight {
		if f.match(c) {
			out = append(out, toConflictOutput(c, stateAwaiting, 0))
		}
	}
	for _, e := range v.Pending {
		if f.match(e.Conflict) {
			out = append(out, toConflictOutput(e.Conflict, statePending, e.CoalesceCount))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return severityRank(out[i].Severity) > severityRank(out[j].Severity)
	})
	return out
}

func severityRank(s string) int {
	var sev conflict.Severity
	if err := sev.UnmarshalText([]byte(s)); err != nil {
		return -1
	}
	return int(sev)
}

func toConflictOutput(c *conflict.Conflict, state string, coalesced int) ConflictOutput {
	offered := resolution.Offered(c.Kind)
	actions := make([]string, 0, len(offered))
	for _, a := range offered {
		actions = append(actions, string(a))
	}
	out := ConflictOutput{
		ID:            c.ID,
		Path:          c.Path,
		Kind:          string(c.Kind),
		Severity:      c.Severity.String(),
		State:         state,
		Summary:       c.Summary(),
		DetectedAt:    c.DetectedAt.Format(time.RFC3339),
		Offered:       actions,
		CollidesWith:  c.CollidesWith,
		Cause:         c.Cause,
		Source:        string(c.Source),
		CoalesceCount: coalesced,
	}
	if c.Cycle != nil {
		out.Cycle = append([]string(nil), c.Cycle.Members...)
	}
	return out
}

// FormatConflicts formats conflicts as markdown.
func FormatConflicts(conflicts []ConflictOutput) string {
	if len(conflicts) == 0 {
		return "No conflicts."
	}

	var sb strings.Builder
	sb.WriteString("## Conflicts\n\n")
	sb.WriteString(fmt.Sprintf("Found %d conflict", len(conflicts)))
	if len(conflicts) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, c := range conflicts {
		fmt.Fprintf(&sb, "### %d. %s (%s, %s)\n", i+1, c.Path, c.Severity, c.State)
		fmt.Fprintf(&sb, "%s\n\n", c.Summary)
		fmt.Fprintf(&sb, "- id: `%s`\n", c.ID)
		fmt.Fprintf(&sb, "- kind: %s\n", c.Kind)
		if c.Cause != "" {
			fmt.Fprintf(&sb, "- cause: %s\n", c.Cause)
		}
		if c.CoalesceCount > 0 {
			fmt.Fprintf(&sb, "- merged detections: %d\n", c.CoalesceCount)
		}
		fmt.Fprintf(&sb, "- actions: %s\n\n", strings.Join(c.Offered, ", "))
	}
	return sb.String()
}

// ToBackupOutput converts an emergency backup for list_backups.
func ToBackupOutput(b recovery.EmergencyBackup) BackupOutput {
	return BackupOutput{
		Path:        b.OriginalPath,
		SnapshotAt:  b.SnapshotAt.Format(time.RFC3339),
		SizeBytes:   len(b.SnapshotContent),
		ContentHash: b.ContentHash,
	}
}

// FormatBackups formats emergency backups as markdown.
func FormatBackups(backups []BackupOutput) string {
	if len(backups) == 0 {
		return "No emergency backups."
	}

	var sb strings.Builder
	sb.WriteString("## Emergency Backups\n\n")
	for _, b := range backups {
		fmt.Fprintf(&sb, "- %s (%s, saved %s)\n", b.Path, humanSize(int64(b.SizeBytes)), b.SnapshotAt)
	}
	return sb.String()
}

// humanSize formats bytes as a human-readable string.
func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)

	switch {
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
