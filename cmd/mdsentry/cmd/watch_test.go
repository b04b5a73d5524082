package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWatchFor runs `watch --plain args...` until timeout.
func runWatchFor(t *testing.T, timeout time.Duration, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	root := NewRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(&bytes.Buffer{})
	root.SetArgs(append([]string{"watch", "--plain"}, args...))
	err := root.ExecuteContext(ctx)
	return stdout.String(), err
}

func TestWatch_StopsCleanlyOnCancel(t *testing.T) {
	// Given: a document with one include
	isolate(t)
	t.Setenv("MDSENTRY_DEBOUNCE_DELAY", "10s")
	dir := t.TempDir()
	doc := writeDoc(t, dir, "board.md", "!!!include(part.md)!!!\n")
	writeDoc(t, dir, "part.md", "part\n")

	// When: watching until the context ends
	out, err := runWatchFor(t, 300*time.Millisecond, doc)

	// Then: it reports what it watches and exits without error
	require.NoError(t, err)
	assert.Contains(t, out, "Watching 1 document(s), 2 file(s)")
}

func TestWatch_TelemetryDatabase(t *testing.T) {
	// Given: telemetry enabled by default
	home := isolate(t)
	t.Setenv("MDSENTRY_DEBOUNCE_DELAY", "10s")
	doc := writeDoc(t, t.TempDir(), "board.md", "board\n")

	// When: a watch session ends
	_, err := runWatchFor(t, 200*time.Millisecond, doc)
	require.NoError(t, err)

	// Then: the statistics database exists for `mdsentry stats`
	assert.FileExists(t, filepath.Join(home, ".mdsentry", "stats.db"))

	// And: disabling telemetry in a fresh home creates nothing
	home = isolate(t)
	t.Setenv("MDSENTRY_TELEMETRY_DISABLED", "1")
	_, err = runWatchFor(t, 200*time.Millisecond, doc)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(home, ".mdsentry", "stats.db"))
}

func TestWatch_OffersEmergencyBackups(t *testing.T) {
	// Given: a backup newer than the saved file
	home := isolate(t)
	t.Setenv("MDSENTRY_DEBOUNCE_DELAY", "10s")
	doc := writeDoc(t, t.TempDir(), "board.md", "saved\n")
	seedBackup(t, home, doc, "unsaved\n", time.Now().Add(time.Minute))

	// When: watching
	out, err := runWatchFor(t, 300*time.Millisecond, doc)

	// Then: the backup is announced
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 emergency backup(s)")
}

func TestWatch_ScratchLockedByAnotherSession(t *testing.T) {
	// Given: another process holds the recovery directory
	home := isolate(t)
	doc := writeDoc(t, t.TempDir(), "board.md", "saved\n")
	holder := newLockedRecovery(t, home)
	defer func() { _ = holder.Close() }()

	// When: watching
	_, err := runWatchFor(t, time.Second, doc)

	// Then: startup fails with the lock error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use by another process")
}
