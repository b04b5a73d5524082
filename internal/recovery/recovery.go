// Package recovery keeps emergency backups of unsaved content so that an
// abnormal exit never loses edits.
//
// Backups are JSON files in a scratch directory, one per original path,
// named by a stable hash of that path and written atomically (temp file
// then rename). The directory is guarded by an exclusive file lock held
// for the life of the owning process. Recovery never applies a backup by
// itself; callers surface each one for explicit confirmation.
package recovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
)

const (
	backupExt    = ".json"
	lockFileName = ".scratch.lock"
)

// EmergencyBackup is a snapshot of unsaved content for one file.
type EmergencyBackup struct {
	OriginalPath    string    `json:"original_path"`
	SnapshotContent []byte    `json:"snapshot_content"`
	SnapshotAt      time.Time `json:"snapshot_at"`
	ContentHash     string    `json:"content_hash"`
}

// Buffers returns the current unsaved content keyed by path.
type Buffers func() map[string][]byte

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the scratch directory.
type Manager struct {
	dir    string
	lock   *flock.Flock
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	locked bool
}

// NewManager creates a manager for dir. Call Open before writing.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:    dir,
		lock:   flock.New(filepath.Join(dir, lockFileName)),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the scratch directory.
func (m *Manager) Dir() string { return m.dir }

// Open creates the scratch directory and takes its exclusive lock.
// It fails with ERR_206_SCRATCH_LOCKED when another process holds it.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return nil
	}
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		if se := serrors.ClassifyIO(m.dir, err); se != nil {
			return se
		}
		return fmt.Errorf("failed to create recovery directory: %w", err)
	}
	acquired, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire recovery lock: %w", err)
	}
	if !acquired {
		return serrors.New(serrors.ErrCodeScratchLocked, "recovery directory is in use by another process", nil).
			WithDetail("path", m.dir).
			WithSuggestion("Close the other mdsentry instance or set recovery.dir to a different directory")
	}
	m.locked = true
	return nil
}

// Close releases the scratch lock. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locked {
		return nil
	}
	m.locked = false
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release recovery lock: %w", err)
	}
	return nil
}

// Snapshot writes a backup of content for path, replacing any earlier one.
func (m *Manager) Snapshot(path string, content []byte) (EmergencyBackup, error) {
	b := EmergencyBackup{
		OriginalPath:    path,
		SnapshotContent: append([]byte(nil), content...),
		SnapshotAt:      m.now(),
		ContentHash:     filestate.HashContent(content),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLock(); err != nil {
		return EmergencyBackup{}, err
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return EmergencyBackup{}, fmt.Errorf("failed to marshal backup: %w", err)
	}

	target := m.fileFor(path)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return EmergencyBackup{}, m.ioError(tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return EmergencyBackup{}, m.ioError(target, err)
	}

	m.logger.Debug("emergency backup written",
		slog.String("path", path),
		slog.Int("bytes", len(content)))
	return b, nil
}

// SnapshotAll backs up every buffer and returns the first error.
func (m *Manager) SnapshotAll(buffers Buffers) error {
	if buffers == nil {
		return nil
	}
	var firstErr error
	for path, content := range buffers() {
		if _, err := m.Snapshot(path, content); err != nil {
			m.logger.Warn("emergency backup failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run snapshots buffers every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration, buffers Buffers) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.SnapshotAll(buffers)
		}
	}
}

// Recover returns the backups that are newer than their saved file, oldest
// first. A backup whose content already matches the file on disk is
// removed, since there is nothing left to recover.
func (m *Manager) Recover() ([]EmergencyBackup, error) {
	all, err := m.List()
	if err != nil {
		return nil, err
	}

	var out []EmergencyBackup
	for _, b := range all {
		info, statErr := os.Stat(b.OriginalPath)
		switch {
		case errors.Is(statErr, os.ErrNotExist):
			out = append(out, b)
			continue
		case statErr != nil:
			// Unreadable originals are still offered rather than lost.
			out = append(out, b)
			continue
		}

		if !b.SnapshotAt.After(info.ModTime()) {
			continue
		}
		if data, readErr := os.ReadFile(b.OriginalPath); readErr == nil &&
			filestate.HashContent(data) == b.ContentHash {
			if err := m.Discard(b.OriginalPath); err != nil {
				m.logger.Warn("failed to remove redundant backup",
					slog.String("path", b.OriginalPath),
					slog.String("error", err.Error()))
			}
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// List returns every readable backup, oldest first. Corrupt backup files
// are logged and skipped. List does not need the scratch lock.
func (m *Manager) List() ([]EmergencyBackup, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, m.ioError(m.dir, err)
	}

	var out []EmergencyBackup
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupExt) {
			continue
		}
		file := filepath.Join(m.dir, e.Name())
		b, err := readBackup(file)
		if err != nil {
			m.logger.Warn("skipping corrupt backup",
				slog.String("file", file),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SnapshotAt.Equal(out[j].SnapshotAt) {
			return out[i].SnapshotAt.Before(out[j].SnapshotAt)
		}
		return out[i].OriginalPath < out[j].OriginalPath
	})
	return out, nil
}

// Load returns the backup for path, if any.
func (m *Manager) Load(path string) (EmergencyBackup, bool, error) {
	b, err := readBackup(m.fileFor(path))
	if errors.Is(err, os.ErrNotExist) {
		return EmergencyBackup{}, false, nil
	}
	if err != nil {
		return EmergencyBackup{}, false, err
	}
	return b, true, nil
}

// Discard removes the backup for path. A missing backup is not an error.
func (m *Manager) Discard(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireLock(); err != nil {
		return err
	}
	file := m.fileFor(path)
	if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return m.ioError(file, err)
	}
	return nil
}

// Prune removes backups older than age and returns how many were removed.
func (m *Manager) Prune(age time.Duration) (int, error) {
	all, err := m.List()
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-age)
	removed := 0
	for _, b := range all {
		if !b.SnapshotAt.Before(cutoff) {
			continue
		}
		if err := m.Discard(b.OriginalPath); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// BackupKey is the stable file stem for an original path.
func BackupKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) fileFor(path string) string {
	return filepath.Join(m.dir, BackupKey(path)+backupExt)
}

func (m *Manager) requireLock() error {
	if m.locked {
		return nil
	}
	return serrors.New(serrors.ErrCodeScratchLocked, "recovery directory is not open", nil).
		WithDetail("path", m.dir)
}

func (m *Manager) ioError(path string, err error) error {
	if se := serrors.ClassifyIO(path, err); se != nil {
		return se
	}
	return serrors.New(serrors.ErrCodeFileNotFound, "file not found", err).WithDetail("path", path)
}

func readBackup(file string) (EmergencyBackup, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return EmergencyBackup{}, err
	}
	var b EmergencyBackup
	if err := json.Unmarshal(data, &b); err != nil {
		return EmergencyBackup{}, serrors.New(serrors.ErrCodeBackupCorrupt, "backup file is corrupt", err).
			WithDetail("path", file)
	}
	if b.OriginalPath == "" || b.ContentHash != filestate.HashContent(b.SnapshotContent) {
		return EmergencyBackup{}, serrors.New(serrors.ErrCodeBackupCorrupt, "backup content does not match its hash", nil).
			WithDetail("path", file)
	}
	return b, nil
}
