package coordinator

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/Aman-CERP/mdsentry/internal/conflict"
	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
	"github.com/Aman-CERP/mdsentry/internal/recovery"
)

// RegisterDocument starts tracking a primary document and every file it
// transitively includes.
func (c *Coordinator) RegisterDocument(ctx context.Context, path string) (DocumentHandle, error) {
	p, err := filestate.Canonical(path)
	if err != nil {
		return DocumentHandle{}, serrors.New(serrors.ErrCodeInvalidPath, "invalid document path", err).
			WithDetail("path", path)
	}
	if _, err := c.fs.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DocumentHandle{}, serrors.New(serrors.ErrCodeFileNotFound, "document not found: "+p, err).
				WithDetail("path", p)
		}
		if se := serrors.ClassifyIO(p, err); se != nil {
			return DocumentHandle{}, se
		}
		return DocumentHandle{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return DocumentHandle{}, c.closedError()
	}
	c.nextDoc++
	h := DocumentHandle{ID: c.nextDoc, Path: p}
	c.docs[h.ID] = p
	c.mu.Unlock()

	if err := c.expand(ctx, []string{p}); err != nil {
		_ = c.UnregisterDocument(h)
		return DocumentHandle{}, err
	}
	c.logger.Info("document registered",
		slog.String("path", p),
		slog.Int("tracked_files", c.GetSystemStatus().TrackedFiles))
	return h, nil
}

// UnregisterDocument stops tracking a document. Files still reached by
// another registered document stay tracked; for the rest, prompts are
// cancelled and queue entries dropped.
func (c *Coordinator) UnregisterDocument(h DocumentHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	root, ok := c.docs[h.ID]
	if !ok {
		return serrors.New(serrors.ErrCodeUnknownDocument, "document is not registered", nil).
			WithDetail("path", h.Path)
	}
	delete(c.docs, h.ID)
	// Session choices end with the document even if another one still includes it.
	c.policy.ForgetSession(root)
	c.collectLocked()
	return nil
}

// NotifyLocalEdit records whether path has unsaved in-memory changes.
// Untracked paths are ignored.
func (c *Coordinator) NotifyLocalEdit(path string, hasUnsavedChanges bool) {
	p := canonical(path)
	c.mu.Lock()
	if c.closed || !c.store.SetUnsaved(p, hasUnsavedChanges) {
		c.mu.Unlock()
		return
	}
	discovered := c.detectLocked(p, detectOpts{})
	c.mu.Unlock()
	c.expandDetached(discovered)
}

// NotifyLocalSave accepts content the editor wrote to path. An empty hash
// is computed from content.
func (c *Coordinator) NotifyLocalSave(path string, content []byte, hash string) error {
	p := canonical(path)
	computed := filestate.HashContent(content)
	if hash == "" {
		hash = computed
	} else if hash != computed {
		return serrors.ValidationError("hash does not match content", nil).WithDetail("path", p)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closedError()
	}
	if !c.tracked(p) {
		c.mu.Unlock()
		return serrors.New(serrors.ErrCodeUnknownDocument, "path is not tracked", nil).WithDetail("path", p)
	}
	discovered := c.commitLocked(p, content, hash)
	_, recovering := c.backups[p]
	c.mu.Unlock()

	if c.recovery != nil && !recovering {
		if err := c.recovery.Discard(p); err != nil {
			c.logger.Warn("failed to discard emergency backup",
				slog.String("path", p),
				slog.String("error", err.Error()))
		}
	}
	return c.expand(c.baseCtx, discovered)
}

// SaveDocument writes content to path and accepts it. A failed write is
// kept in memory and surfaced as a blocking permission-denied conflict
// whose retry action repeats the write.
func (c *Coordinator) SaveDocument(ctx context.Context, path string, content []byte) error {
	p := canonical(path)
	c.mu.Lock()
	known := c.tracked(p)
	c.mu.Unlock()
	if !known {
		return serrors.New(serrors.ErrCodeUnknownDocument, "path is not tracked", nil).WithDetail("path", p)
	}

	err := serrors.Retry(ctx, c.retry, func() error {
		return c.write(p, content)
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.mu.Lock()
		c.surfaceSaveFailureLocked(p, content, err)
		c.mu.Unlock()
		return err
	}
	return c.NotifyLocalSave(p, content, "")
}

func (c *Coordinator) surfaceSaveFailureLocked(path string, content []byte, err error) {
	if c.closed {
		return
	}
	c.pendingSaves[path] = content
	found := conflict.New(path, conflict.KindPermissionDenied, conflict.SeverityBlocking, c.now())
	found.Cause = err.Error()
	c.pushLocked(found)
}

// write replaces path with content, preserving the file mode.
func (c *Coordinator) write(path string, content []byte) error {
	perm := os.FileMode(0o644)
	if info, err := c.fs.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	if err := c.fs.WriteFile(path, content, perm); err != nil {
		if se := serrors.ClassifyIO(path, err); se != nil {
			return se
		}
		return err
	}
	return nil
}

// UnsavedBuffers returns the in-memory content of every tracked path with
// unsaved changes.
func (c *Coordinator) UnsavedBuffers() map[string][]byte {
	if c.buffers == nil {
		return nil
	}
	c.mu.Lock()
	var unsaved []string
	for _, p := range c.store.Paths() {
		if rec, ok := c.store.Observe(p); ok && rec.Unsaved {
			unsaved = append(unsaved, p)
		}
	}
	c.mu.Unlock()

	out := make(map[string][]byte, len(unsaved))
	for _, p := range unsaved {
		if content, ok := c.buffers.Content(p); ok {
			out[p] = content
		}
	}
	return out
}

// RunCrashRecovery offers every emergency backup newer than its saved
// file as a backup-sourced conflict. It must run before any document is
// registered. Nothing is restored without a resolution.
func (c *Coordinator) RunCrashRecovery(ctx context.Context) ([]recovery.EmergencyBackup, error) {
	if c.recovery == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.closedError()
	}
	if len(c.docs) > 0 {
		return nil, serrors.New(serrors.ErrCodeInvalidInput, "crash recovery must run before documents are registered", nil)
	}
	if c.recovered {
		return c.backupsLocked(), nil
	}

	backups, err := c.recovery.Recover()
	if err != nil {
		return nil, err
	}
	c.recovered = true
	now := c.now()
	for _, b := range backups {
		c.backups[b.OriginalPath] = b
		c.pushLocked(conflict.ForBackup(b.OriginalPath, b.SnapshotAt, now))
	}
	if len(backups) > 0 {
		c.logger.Info("emergency backups recovered", slog.Int("count", len(backups)))
	}
	return backups, nil
}

func (c *Coordinator) backupsLocked() []recovery.EmergencyBackup {
	out := make([]recovery.EmergencyBackup, 0, len(c.backups))
	for _, b := range c.backups {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotAt.Before(out[j].SnapshotAt) })
	return out
}

// discardBackupLocked drops a recovered backup once its conflict is answered.
func (c *Coordinator) discardBackupLocked(path string) {
	delete(c.backups, path)
	if c.recovery == nil {
		return
	}
	if err := c.recovery.Discard(path); err != nil {
		c.logger.Warn("failed to discard emergency backup",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
