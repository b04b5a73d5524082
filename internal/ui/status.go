package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	"github.com/Aman-CERP/mdsentry/internal/coordinator"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
	"github.com/Aman-CERP/mdsentry/internal/telemetry"
)

// StatusRenderer displays coordinator state.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
		now:    time.Now,
	}
}

// Render displays system status.
func (r *StatusRenderer) Render(s coordinator.Status) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("mdsentry status"))

	_, _ = fmt.Fprintf(r.out, "  Documents:  %d\n", len(s.Documents))
	for _, d := range s.Documents {
		_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Path.Render(d))
	}
	_, _ = fmt.Fprintf(r.out, "  Tracked:    %d files\n", s.TrackedFiles)
	_, _ = fmt.Fprintf(r.out, "  Includes:   %d edges\n", s.GraphEdgeCount)
	_, _ = fmt.Fprintf(r.out, "  Conflicts:  %d pending, %d awaiting resolution\n", s.PendingConflicts, s.InFlightConflicts)
	if s.RecoveredBackups > 0 {
		_, _ = fmt.Fprintf(r.out, "  Backups:    %s\n", r.styles.Warning.Render(fmt.Sprintf("%d recovered", s.RecoveredBackups)))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(s.WatchHealth) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Watch health:")
		paths := make([]string, 0, len(s.WatchHealth))
		for p := range s.WatchHealth {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			h := s.WatchHealth[p]
			_, _ = fmt.Fprintf(r.out, "    %-9s %s\n", r.styles.Health(h).Render(string(h)), p)
		}
		_, _ = fmt.Fprintln(r.out)
	}

	if len(s.ReadOnly) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Read-only:")
		for _, p := range s.ReadOnly {
			_, _ = fmt.Fprintf(r.out, "    %s\n", p)
		}
	}
	return nil
}

// RenderConflicts lists pending and in-flight conflicts.
func (r *StatusRenderer) RenderConflicts(v coordinator.ConflictView) error {
	if len(v.Pending) == 0 && len(v.InFlight) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Success.Render("No conflicts"))
		return nil
	}

	if len(v.InFlight) > 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Awaiting resolution"))
		for _, c := range v.InFlight {
			r.conflictLine(c, "")
		}
		_, _ = fmt.Fprintln(r.out)
	}
	if len(v.Pending) > 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Pending"))
		for _, e := range v.Pending {
			extra := ""
			if e.CoalesceCount > 0 {
				extra = fmt.Sprintf(" (+%d)", e.CoalesceCount)
			}
			r.conflictLine(e.Conflict, extra)
		}
	}
	return nil
}

func (r *StatusRenderer) conflictLine(c *conflict.Conflict, extra string) {
	sev := r.styles.Severity(c.Severity).Render(fmt.Sprintf("%-8s", c.Severity))
	_, _ = fmt.Fprintf(r.out, "  %s %s  %s%s\n", sev, r.styles.Path.Render(c.Path), c.Summary(), r.styles.Dim.Render(extra))
	_, _ = fmt.Fprintf(r.out, "           %s %s, %s\n",
		r.styles.Label.Render("id"), c.ID, formatTime(c.DetectedAt, r.now()))
}

// RenderGraph prints include edges, the load order and rejected cycles.
func (r *StatusRenderer) RenderGraph(g coordinator.GraphView) error {
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Includes"))
	if len(g.Edges) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("  (none)"))
	}
	for _, e := range g.Edges {
		_, _ = fmt.Fprintf(r.out, "  %s -> %s %s\n", e.From, e.To, r.styles.Dim.Render("["+string(e.Kind)+"]"))
	}

	if len(g.Order) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Load order"))
		for i, p := range g.Order {
			_, _ = fmt.Fprintf(r.out, "  %2d. %s\n", i+1, p)
		}
	}

	if len(g.Rejected) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, r.styles.Blocking.Render("Rejected (would form a cycle)"))
		for _, c := range g.Rejected {
			if len(c.Members) == 0 {
				_, _ = fmt.Fprintf(r.out, "  %s -> %s\n", c.Edge.From, c.Edge.To)
				continue
			}
			loop := append(append([]string(nil), c.Members...), c.Members[0])
			_, _ = fmt.Fprintf(r.out, "  %s -> %s: %s\n", c.Edge.From, c.Edge.To, strings.Join(loop, " -> "))
		}
	}
	return nil
}

// RenderBackups lists emergency backups.
func (r *StatusRenderer) RenderBackups(backups []recovery.EmergencyBackup) error {
	if len(backups) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Success.Render("No emergency backups"))
		return nil
	}
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render("Emergency backups"))
	for _, b := range backups {
		_, _ = fmt.Fprintf(r.out, "  %s  %s, %s\n",
			r.styles.Path.Render(b.OriginalPath),
			FormatBytes(int64(len(b.SnapshotContent))),
			formatTime(b.SnapshotAt, r.now()))
	}
	return nil
}

// RenderStats prints conflict statistics for a date range.
func (r *StatusRenderer) RenderStats(t telemetry.Totals) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(fmt.Sprintf("Conflicts %s to %s", t.From, t.To)))
	if len(t.Detections) == 0 && len(t.Resolutions) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("  (no activity)"))
		return nil
	}

	kinds := make([]string, 0, len(t.Detections))
	var total int64
	for k, n := range t.Detections {
		kinds = append(kinds, string(k))
		total += n
	}
	sort.Strings(kinds)
	_, _ = fmt.Fprintf(r.out, "  Detected:   %d\n", total)
	for _, k := range kinds {
		_, _ = fmt.Fprintf(r.out, "    %-28s %d\n", k, t.Detections[conflict.Kind(k)])
	}

	if len(t.Resolutions) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Resolved:")
		for _, rc := range t.Resolutions {
			how := ""
			if rc.Auto {
				how = r.styles.Dim.Render(" (remembered)")
			}
			_, _ = fmt.Fprintf(r.out, "    %-28s %-26s %d%s\n", rc.Kind, rc.Action, rc.Count, how)
		}
	}
	return nil
}

// RenderJSON outputs any view as JSON.
func (r *StatusRenderer) RenderJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// formatTime formats t relative to now.
func formatTime(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
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
