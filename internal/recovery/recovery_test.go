package recovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func openManager(t *testing.T, clock *stepClock) *Manager {
	t.Helper()
	m := NewManager(filepath.Join(t.TempDir(), "recovery"), WithClock(clock.Now))
	require.NoError(t, m.Open())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestManager_SnapshotAndRecoverNewerThanSaved(t *testing.T) {
	// Given: a saved file last written an hour ago
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	clock := &stepClock{now: base}
	m := openManager(t, clock)

	doc := filepath.Join(t.TempDir(), "board.md")
	writeFile(t, doc, "saved", base)

	// When: unsaved content is snapshotted after the save
	clock.Set(base.Add(time.Minute))
	b, err := m.Snapshot(doc, []byte("unsaved edits"))
	require.NoError(t, err)
	assert.Equal(t, doc, b.OriginalPath)
	assert.NotEmpty(t, b.ContentHash)

	// Then: recovery offers it
	got, err := m.Recover()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "unsaved edits", string(got[0].SnapshotContent))
	assert.True(t, got[0].SnapshotAt.Equal(base.Add(time.Minute)))
}

func TestManager_RecoverSkipsBackupsOlderThanSave(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	clock := &stepClock{now: base}
	m := openManager(t, clock)

	doc := filepath.Join(t.TempDir(), "board.md")
	_, err := m.Snapshot(doc, []byte("old edits"))
	require.NoError(t, err)

	// The file was saved after the snapshot.
	writeFile(t, doc, "newer save", base.Add(time.Minute))

	got, err := m.Recover()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestManager_RecoverDropsBackupMatchingDisk(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	clock := &stepClock{now: base.Add(time.Minute)}
	m := openManager(t, clock)

	doc := filepath.Join(t.TempDir(), "board.md")
	writeFile(t, doc, "same", base)
	_, err := m.Snapshot(doc, []byte("same"))
	require.NoError(t, err)

	got, err := m.Recover()
	require.NoError(t, err)
	assert.Empty(t, got)

	_, ok, err := m.Load(doc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_RecoverOffersBackupOfDeletedFile(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	m := openManager(t, clock)

	doc := filepath.Join(t.TempDir(), "gone.md")
	_, err := m.Snapshot(doc, []byte("only copy"))
	require.NoError(t, err)

	got, err := m.Recover()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, doc, got[0].OriginalPath)
}

func TestManager_SnapshotReplacesPrevious(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	m := openManager(t, clock)

	_, err := m.Snapshot("/docs/a.md", []byte("one"))
	require.NoError(t, err)
	_, err = m.Snapshot("/docs/a.md", []byte("two"))
	require.NoError(t, err)

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "two", string(all[0].SnapshotContent))

	// No temp files are left behind.
	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestManager_DiscardIsIdempotent(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	m := openManager(t, clock)

	_, err := m.Snapshot("/docs/a.md", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.Discard("/docs/a.md"))
	require.NoError(t, m.Discard("/docs/a.md"))

	all, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_Prune(t *testing.T) {
	// Given: an old and a recent backup
	start := time.Now()
	clock := &stepClock{now: start}
	m := openManager(t, clock)
	_, err := m.Snapshot("/docs/old.md", []byte("old"))
	require.NoError(t, err)

	clock.Set(start.Add(48 * time.Hour))
	_, err = m.Snapshot("/docs/new.md", []byte("new"))
	require.NoError(t, err)

	// When: pruning backups older than a day
	removed, err := m.Prune(24 * time.Hour)
	require.NoError(t, err)

	// Then: only the old one is removed
	assert.Equal(t, 1, removed)
	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/docs/new.md", all[0].OriginalPath)
}

func TestManager_CorruptBackupIsSkipped(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	m := openManager(t, clock)
	_, err := m.Snapshot("/docs/a.md", []byte("good"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), BackupKey("/docs/b.md")+".json"), []byte("{not json"), 0o600))

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "/docs/a.md", all[0].OriginalPath)

	_, _, err = m.Load("/docs/b.md")
	assert.Equal(t, serrors.ErrCodeBackupCorrupt, serrors.GetCode(err))
}

func TestManager_WritesRequireLock(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "recovery"))

	_, err := m.Snapshot("/docs/a.md", []byte("x"))
	assert.Equal(t, serrors.ErrCodeScratchLocked, serrors.GetCode(err))
	assert.Equal(t, serrors.ErrCodeScratchLocked, serrors.GetCode(m.Discard("/docs/a.md")))

	// Listing a directory that does not exist yet is empty, not an error.
	all, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_SecondOwnerIsRejected(t *testing.T) {
	// Given: a scratch directory opened by one manager
	dir := filepath.Join(t.TempDir(), "recovery")
	first := NewManager(dir)
	require.NoError(t, first.Open())
	defer func() { _ = first.Close() }()

	// When: a second manager opens the same directory
	second := NewManager(dir)
	err := second.Open()

	// Then: it is refused as locked
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeScratchLocked, serrors.GetCode(err))

	// And: once released, it can be opened
	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	require.NoError(t, second.Open())
	require.NoError(t, second.Close())
}

func TestManager_RunSnapshotsBuffers(t *testing.T) {
	clock := &stepClock{now: time.Now()}
	m := openManager(t, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond, func() map[string][]byte {
			return map[string][]byte{"/docs/a.md": []byte("draft")}
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok, _ := m.Load("/docs/a.md")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestBackupKey_IsStable(t *testing.T) {
	assert.Equal(t, BackupKey("/docs/a.md"), BackupKey("/docs/a.md"))
	assert.NotEqual(t, BackupKey("/docs/a.md"), BackupKey("/docs/A.md"))
	assert.Len(t, BackupKey("/docs/a.md"), 64)
}
