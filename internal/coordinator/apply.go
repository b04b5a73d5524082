package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/include"
	"github.com/Aman-CERP/mdsentry/internal/resolution"
)

// Outcome reports what one resolution did.
type Outcome struct {
	ConflictID string            `json:"conflict_id"`
	Path       string            `json:"path,omitempty"`
	Action     resolution.Action `json:"action"`
	Applied    bool              `json:"applied"`

	// Content is the file content the editor should now show, set by
	// reload-style actions.
	Content []byte `json:"content,omitempty"`

	Detail string `json:"detail,omitempty"`
	Err    error  `json:"-"`
	Error  string `json:"error,omitempty"`
}

// ApplyResolutions applies each resolution in its own turn. Per-resolution
// failures are reported in the outcomes and joined into the returned error.
func (c *Coordinator) ApplyResolutions(ctx context.Context, res []resolution.Resolution) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(res))
	var errs []error
	for _, r := range res {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return outcomes, c.closedError()
		}
		out, discovered := c.applyLocked(ctx, r)
		c.mu.Unlock()

		if err := c.expand(ctx, discovered); err != nil && out.Err == nil {
			out.Err = err
		}
		if out.Err != nil {
			out.Error = out.Err.Error()
			errs = append(errs, out.Err)
			c.logger.Warn("resolution not applied",
				slog.String("path", out.Path),
				slog.String("action", string(out.Action)),
				slog.String("error", out.Error))
		} else {
			c.logger.Info("conflict resolved",
				slog.String("path", out.Path),
				slog.String("action", string(out.Action)),
				slog.Bool("auto", r.Auto))
		}
		outcomes = append(outcomes, out)
	}
	c.signal()
	return outcomes, errors.Join(errs...)
}

// findLocked looks a conflict up among in-flight then pending entries.
func (c *Coordinator) findLocked(id string) (*conflict.Conflict, bool) {
	if cf, ok := c.queue.Lookup(id); ok {
		return cf, true
	}
	for _, e := range c.queue.Pending() {
		if e.Conflict.ID == id {
			return e.Conflict, true
		}
	}
	return nil, false
}

func (c *Coordinator) applyLocked(ctx context.Context, r resolution.Resolution) (Outcome, []string) {
	out := Outcome{ConflictID: r.ConflictID, Action: r.Action}
	cf, ok := c.findLocked(r.ConflictID)
	if !ok {
		out.Err = serrors.New(serrors.ErrCodeUnknownConflict, "no such conflict", nil).
			WithDetail("id", r.ConflictID)
		return out, nil
	}
	out.Path = cf.Path
	if r.Action == "" {
		r.Action = resolution.ActionDismiss
		out.Action = r.Action
	}
	if err := c.policy.Validate(cf, r.Action); err != nil {
		out.Err = err
		return out, nil
	}

	// Settle first: the action may queue a fresh conflict for the same path.
	c.settleLocked(cf)

	discovered, err := c.actLocked(cf, r, &out)
	if err != nil {
		out.Err = err
		return out, discovered
	}
	out.Applied = true
	c.metrics.RecordResolution(cf.Path, cf.Kind, r.Action, r.Auto)

	if r.Remember != nil {
		pref := *r.Remember
		if pref.ScopeKey == "" {
			pref.ScopeKey = cf.Path
		}
		if pref.Kind == "" {
			pref.Kind = cf.Kind
		}
		if pref.Action == "" {
			pref.Action = r.Action
		}
		if err := c.policy.Remember(ctx, pref); err != nil {
			out.Err = err
		}
	}
	return out, discovered
}

// settleLocked removes cf from the queue and abandons any prompt about it.
func (c *Coordinator) settleLocked(cf *conflict.Conflict) {
	c.cancelPromptLocked(cf.Path, cf.ID)
	if cur, ok := c.queue.InFlightFor(cf.Path); ok && cur.ID == cf.ID {
		c.queue.Complete(cf.Path)
		return
	}
	if cur, ok := c.queue.PendingFor(cf.Path); ok && cur.ID == cf.ID {
		c.queue.Cancel(cf.Path)
	}
}

func (c *Coordinator) requeueLocked(cf *conflict.Conflict) {
	c.queue.Requeue(cf, c.now())
}

func (c *Coordinator) actLocked(cf *conflict.Conflict, r resolution.Resolution, out *Outcome) ([]string, error) {
	path := cf.Path
	switch r.Action {
	case resolution.ActionReload, resolution.ActionReloadDiscardMine:
		if cf.Source == conflict.SourceBackup {
			c.discardBackupLocked(path)
		}
		if !c.tracked(path) {
			return nil, nil
		}
		content, err := c.readLocked(path)
		if err != nil {
			return nil, err
		}
		out.Content = content
		return c.commitLocked(path, content, filestate.HashContent(content)), nil

	case resolution.ActionKeepMineOverwrite:
		mine, err := c.mineLocked(cf)
		if err != nil {
			return nil, err
		}
		if err := c.write(path, mine); err != nil {
			if c.tracked(path) {
				c.surfaceSaveFailureLocked(path, mine, err)
			}
			return nil, err
		}
		if cf.Source == conflict.SourceBackup {
			c.discardBackupLocked(path)
		}
		out.Content = mine
		if !c.tracked(path) {
			return nil, nil
		}
		return c.commitLocked(path, mine, filestate.HashContent(mine)), nil

	case resolution.ActionIgnoreOnce:
		c.ignored[path] = cf.DiskHash
		return nil, nil

	case resolution.ActionSaveCopyElsewhere:
		return c.saveCopyLocked(cf, r.Argument, out)

	case resolution.ActionRecreateFromMemory:
		return c.recreateLocked(cf, out)

	case resolution.ActionFindAlternative:
		return c.findAlternativeLocked(cf, r.Argument, out)

	case resolution.ActionRemoveReference:
		removed := 0
		for _, e := range c.graph.Incoming(path) {
			if c.graph.RemoveEdge(e.From, path) {
				removed++
			}
		}
		c.collectLocked()
		out.Detail = fmt.Sprintf("removed %d include reference(s)", removed)
		return nil, nil

	case resolution.ActionUseNewFile, resolution.ActionKeepExistingRef:
		content, err := c.readLocked(path)
		if err != nil {
			return nil, err
		}
		discovered := c.commitLocked(path, content, filestate.HashContent(content))
		if r.Action == resolution.ActionUseNewFile {
			c.store.ClaimSlot(path)
		}
		return discovered, nil

	case resolution.ActionBreakEdge:
		return c.breakEdgeLocked(cf, r.Argument, out)

	case resolution.ActionViewGraph:
		out.Detail = cf.Summary()
		c.requeueLocked(cf)
		return nil, nil

	case resolution.ActionCancelParse:
		out.Detail = "rejected include left out of the graph"
		return nil, nil

	case resolution.ActionRetry:
		return c.retryLocked(path, out)

	case resolution.ActionContinueReadOnly:
		c.readOnly[path] = true
		return nil, nil

	case resolution.ActionRetryNativeWatch:
		if err := c.watch.RetryNative(path); err != nil {
			c.attempts[path]++
			delay := c.retry.Delay(c.attempts[path] - 1)
			c.scheduleLocked(path, purposeRetryNative, delay, func() { c.retryNativeLater(path) })
			out.Detail = "native watch unavailable, retrying in " + delay.String()
			return nil, nil
		}
		c.nativeRestoredLocked(path)
		return nil, nil

	case resolution.ActionSwitchToPolling:
		c.watch.ForcePolling(path, "polling chosen by user")
		delete(c.sinceSwitch, path)
		return nil, nil

	case resolution.ActionDismiss:
		return nil, nil
	}
	return nil, serrors.New(serrors.ErrCodeActionNotOffered, "unsupported action", nil).
		WithDetail("action", string(r.Action))
}

// readLocked reads path from disk, classifying failures.
func (c *Coordinator) readLocked(path string) ([]byte, error) {
	content, err := c.fs.ReadFile(path)
	if err != nil {
		if se := serrors.ClassifyIO(path, err); se != nil {
			return nil, se
		}
		return nil, serrors.New(serrors.ErrCodeFileNotFound, "file not found: "+path, err).WithDetail("path", path)
	}
	return content, nil
}

// mineLocked returns the "mine" side of cf: the recovered backup, a save
// that failed, or the editor buffer.
func (c *Coordinator) mineLocked(cf *conflict.Conflict) ([]byte, error) {
	if cf.Source == conflict.SourceBackup {
		if b, ok := c.backups[cf.Path]; ok {
			return b.SnapshotContent, nil
		}
		return nil, serrors.New(serrors.ErrCodeBackupCorrupt, "emergency backup is gone", nil).WithDetail("path", cf.Path)
	}
	if content, ok := c.pendingSaves[cf.Path]; ok {
		return content, nil
	}
	if c.buffers != nil {
		if content, ok := c.buffers.Content(cf.Path); ok {
			return content, nil
		}
	}
	return nil, serrors.New(serrors.ErrCodeInvalidInput, "no in-memory content for path", nil).WithDetail("path", cf.Path)
}

func (c *Coordinator) missingArgumentLocked(cf *conflict.Conflict, what string) error {
	c.requeueLocked(cf)
	return serrors.ValidationError(what+" is required", nil).WithDetail("path", cf.Path)
}

// saveCopyLocked writes the "mine" side to dest. For an unsaved-vs-external
// conflict the disk version is then accepted for the original path.
func (c *Coordinator) saveCopyLocked(cf *conflict.Conflict, dest string, out *Outcome) ([]string, error) {
	if strings.TrimSpace(dest) == "" {
		return nil, c.missingArgumentLocked(cf, "destination path")
	}
	target, err := filestate.Canonical(dest)
	if err != nil {
		c.requeueLocked(cf)
		return nil, serrors.New(serrors.ErrCodeInvalidPath, "invalid destination path", err).WithDetail("path", dest)
	}
	if target == cf.Path {
		c.requeueLocked(cf)
		return nil, serrors.ValidationError("destination must differ from the conflicting file", nil).WithDetail("path", dest)
	}
	mine, err := c.mineLocked(cf)
	if err != nil {
		return nil, err
	}
	if err := c.fs.WriteFile(target, mine, 0o644); err != nil {
		c.requeueLocked(cf)
		if se := serrors.ClassifyIO(target, err); se != nil {
			return nil, se
		}
		return nil, err
	}
	out.Detail = "copy written to " + target
	delete(c.pendingSaves, cf.Path)

	if cf.Source == conflict.SourceBackup {
		c.discardBackupLocked(cf.Path)
		return nil, nil
	}
	if cf.Kind != conflict.KindUnsavedVsExternal || !c.tracked(cf.Path) {
		return nil, nil
	}
	content, err := c.readLocked(cf.Path)
	if err != nil {
		return nil, err
	}
	out.Content = content
	return c.commitLocked(cf.Path, content, filestate.HashContent(content)), nil
}

// recreateLocked writes the remembered content back to a deleted file.
func (c *Coordinator) recreateLocked(cf *conflict.Conflict, out *Outcome) ([]string, error) {
	path := cf.Path
	if _, err := c.fs.Stat(path); err == nil {
		discovered := c.detectLocked(path, detectOpts{force: true})
		return discovered, serrors.ValidationError("file exists again, nothing to recreate", nil).WithDetail("path", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		if se := serrors.ClassifyIO(path, err); se != nil {
			return nil, se
		}
		return nil, err
	}

	var content []byte
	if c.buffers != nil {
		if b, ok := c.buffers.Content(path); ok {
			content = b
		}
	}
	if content == nil {
		if rec, ok := c.store.Observe(path); ok && rec.CachedContent != nil {
			content = rec.CachedContent
		}
	}
	if content == nil {
		return nil, serrors.New(serrors.ErrCodeInvalidInput, "no remembered content to recreate from", nil).WithDetail("path", path)
	}

	if err := c.write(path, content); err != nil {
		return nil, err
	}
	out.Content = content
	return c.commitLocked(path, content, filestate.HashContent(content)), nil
}

// findAlternativeLocked points every include of the deleted file at
// replacement, rewriting the including files on disk.
func (c *Coordinator) findAlternativeLocked(cf *conflict.Conflict, replacement string, out *Outcome) ([]string, error) {
	if strings.TrimSpace(replacement) == "" {
		return nil, c.missingArgumentLocked(cf, "replacement path")
	}
	target, err := filestate.Canonical(replacement)
	if err != nil {
		c.requeueLocked(cf)
		return nil, serrors.New(serrors.ErrCodeInvalidPath, "invalid replacement path", err).WithDetail("path", replacement)
	}
	if _, err := c.fs.Stat(target); err != nil {
		c.requeueLocked(cf)
		return nil, serrors.New(serrors.ErrCodeFileNotFound, "replacement does not exist: "+target, err).WithDetail("path", target)
	}

	includers := c.graph.Incoming(cf.Path)
	for _, e := range includers {
		if rec, ok := c.store.Observe(e.From); ok && rec.Unsaved {
			c.requeueLocked(cf)
			return nil, serrors.ValidationError("including file has unsaved changes", nil).WithDetail("path", e.From)
		}
	}

	var (
		discovered []string
		rewritten  int
	)
	for _, e := range includers {
		content, err := c.readLocked(e.From)
		if err != nil {
			return discovered, err
		}
		updated, n := include.Rewrite(e.From, content, cf.Path, target)
		if n == 0 {
			continue
		}
		if err := c.write(e.From, updated); err != nil {
			c.surfaceSaveFailureLocked(e.From, updated, err)
			return discovered, err
		}
		rewritten += n
		discovered = append(discovered, c.commitLocked(e.From, updated, filestate.HashContent(updated))...)
	}
	out.Detail = fmt.Sprintf("rewrote %d include directive(s) to %s", rewritten, filepath.Base(target))
	return discovered, nil
}

// breakEdgeLocked drops one edge of a rejected cycle. member names the
// cycle member whose outgoing cycle edge goes; empty drops the rejected
// edge itself. The rejected edge's source is then re-parsed so that edge
// can enter the graph once the loop is open.
func (c *Coordinator) breakEdgeLocked(cf *conflict.Conflict, member string, out *Outcome) ([]string, error) {
	if cf.Cycle == nil {
		return nil, serrors.InternalError("circular conflict carries no cycle", nil)
	}
	cycle := *cf.Cycle
	from, to := cycle.Edge.From, cycle.Edge.To
	if member != "" {
		m := canonical(member)
		found := false
		for i, p := range cycle.Members {
			if p != m {
				continue
			}
			found = true
			if i+1 < len(cycle.Members) {
				from, to = p, cycle.Members[i+1]
			}
			break
		}
		if !found {
			c.requeueLocked(cf)
			return nil, serrors.ValidationError("not a member of the cycle", nil).WithDetail("path", member)
		}
	}

	c.graph.RemoveEdge(from, to)
	out.Detail = fmt.Sprintf("removed include %s -> %s", from, to)
	if from == cycle.Edge.From && to == cycle.Edge.To {
		return nil, nil
	}

	source := cycle.Edge.From
	if rec, ok := c.store.Observe(source); ok && rec.CachedContent != nil {
		return c.reparseLocked(source, rec.CachedContent), nil
	}
	content, err := c.readLocked(source)
	if err != nil {
		return nil, err
	}
	return c.reparseLocked(source, content), nil
}

// retryLocked repeats a failed save, or re-probes the file when no save is
// outstanding. A failure schedules one delayed attempt that re-surfaces
// the conflict if it fails too.
func (c *Coordinator) retryLocked(path string, out *Outcome) ([]string, error) {
	discovered, err := c.retryOnceLocked(path)
	if err == nil {
		delete(c.attempts, path)
		return discovered, nil
	}
	c.attempts[path]++
	delay := c.retry.Delay(c.attempts[path] - 1)
	c.scheduleLocked(path, purposeRetrySave, delay, func() { c.retryLater(path) })
	out.Detail = "still failing, retrying in " + delay.String()
	return nil, err
}

func (c *Coordinator) retryOnceLocked(path string) ([]string, error) {
	if content, ok := c.pendingSaves[path]; ok {
		if err := c.write(path, content); err != nil {
			return nil, err
		}
		return c.commitLocked(path, content, filestate.HashContent(content)), nil
	}

	var recp *filestate.Record
	if rec, ok := c.store.Observe(path); ok {
		recp = &rec
	}
	disk := conflict.Probe(c.fs, path, recp, true)
	if disk.Err != nil {
		return nil, disk.Err
	}
	delete(c.readOnly, path)
	return c.evaluateLocked(path, recp, disk, detectOpts{force: true}), nil
}

func (c *Coordinator) retryLater(path string) {
	c.mu.Lock()
	if c.closed || !c.tracked(path) {
		c.mu.Unlock()
		return
	}
	discovered, err := c.retryOnceLocked(path)
	if err != nil {
		found := conflict.New(path, conflict.KindPermissionDenied, conflict.SeverityBlocking, c.now())
		found.Cause = err.Error()
		c.pushLocked(found)
	} else {
		delete(c.attempts, path)
	}
	c.mu.Unlock()
	c.expandDetached(discovered)
}

func (c *Coordinator) retryNativeLater(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.tracked(path) {
		return
	}
	if err := c.watch.RetryNative(path); err != nil {
		c.logger.Warn("native watch still unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		c.pushLocked(conflict.New(path, conflict.KindWatchFailure, conflict.SeverityInfo, c.now()))
		return
	}
	c.nativeRestoredLocked(path)
}

func (c *Coordinator) nativeRestoredLocked(path string) {
	delete(c.sinceSwitch, path)
	delete(c.attempts, path)
	if st, ok := c.watch.State(path); ok {
		c.store.SetWatchState(path, st)
	}
}
