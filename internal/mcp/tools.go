package mcp

import (
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/telemetry"
)

// ConflictStatusInput defines the input schema for the conflict_status tool.
type ConflictStatusInput struct {
	Check bool   `json:"check,omitempty" jsonschema:"force a fresh disk check before reporting"`
	Path  string `json:"path,omitempty" jsonschema:"limit the forced check to one tracked path"`
}

// ConflictStatusOutput defines the output schema for the conflict_status tool.
type ConflictStatusOutput struct {
	Status coordinator.Status `json:"status"`
}

// ListConflictsInput defines the input schema for the list_conflicts tool.
type ListConflictsInput struct {
	Path        string `json:"path,omitempty" jsonschema:"only conflicts for this path"`
	Kind        string `json:"kind,omitempty" jsonschema:"only this kind, e.g. external-modified, circular-dependency"`
	MinSeverity string `json:"min_severity,omitempty" jsonschema:"info, warning or blocking"`
}

// ListConflictsOutput defines the output schema for the list_conflicts tool.
type ListConflictsOutput struct {
	Conflicts []ConflictOutput `json:"conflicts" jsonschema:"pending and awaiting conflicts, blocking first"`
}

// ConflictOutput is one conflict with the actions that may resolve it.
type ConflictOutput struct {
	ID            string   `json:"id"`
	Path          string   `json:"path"`
	Kind          string   `json:"kind"`
	Severity      string   `json:"severity"`
	State         string   `json:"state" jsonschema:"pending or awaiting"`
	Summary       string   `json:"summary"`
	DetectedAt    string   `json:"detected_at"`
	Offered       []string `json:"offered" jsonschema:"actions accepted by resolve_conflict"`
	Cycle         []string `json:"cycle,omitempty"`
	CollidesWith  string   `json:"collides_with,omitempty"`
	Cause         string   `json:"cause,omitempty"`
	Source        string   `json:"source"`
	CoalesceCount int      `json:"coalesce_count,omitempty"`
}

// ResolveConflictInput defines the input schema for the resolve_conflict tool.
type ResolveConflictInput struct {
	ConflictID string `json:"conflict_id" jsonschema:"ID from list_conflicts"`
	Action     string `json:"action" jsonschema:"one of the conflict's offered actions"`
	Argument   string `json:"argument,omitempty" jsonschema:"destination path for save-copy-elsewhere, replacement for find-alternative, cycle member for break-edge"`
	Remember   string `json:"remember,omitempty" jsonschema:"store the choice: session or always"`
	Scope      string `json:"scope,omitempty" jsonschema:"preference scope: path (default) or global"`
}

// ResolveConflictOutput defines the output schema for the resolve_conflict tool.
type ResolveConflictOutput struct {
	ConflictID string `json:"conflict_id"`
	Path       string `json:"path,omitempty"`
	Action     string `json:"action"`
	Applied    bool   `json:"applied"`
	Detail     string `json:"detail,omitempty"`
	Content    string `json:"content,omitempty" jsonschema:"file content the editor should now show"`
}

// ListBackupsInput defines the input schema for the list_backups tool (no parameters).
type ListBackupsInput struct{}

// ListBackupsOutput defines the output schema for the list_backups tool.
type ListBackupsOutput struct {
	Backups []BackupOutput `json:"backups"`
}

// BackupOutput describes one emergency backup.
type BackupOutput struct {
	Path        string `json:"path"`
	SnapshotAt  string `json:"snapshot_at"`
	SizeBytes   int    `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
}

// IncludeGraphInput defines the input schema for the include_graph tool (no parameters).
type IncludeGraphInput struct{}

// IncludeGraphOutput defines the output schema for the include_graph tool.
type IncludeGraphOutput struct {
	Graph coordinator.GraphView `json:"graph"`
}

// ConflictStatsInput defines the input schema for the conflict_stats tool (no parameters).
type ConflictStatsInput struct{}

// ConflictStatsOutput defines the output schema for the conflict_stats tool.
type ConflictStatsOutput struct {
	Enabled bool               `json:"enabled" jsonschema:"false when statistics are turned off"`
	Stats   telemetry.Snapshot `json:"stats"`
}
