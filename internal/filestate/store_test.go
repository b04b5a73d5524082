package filestate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

func TestStore_CommitThenObserve(t *testing.T) {
	// Given: an empty store
	s := New(4)
	mtime := time.Unix(1700000000, 0)
	content := []byte("# board\n")

	// When: committing content
	s.Commit("/docs/a.md", content, HashContent(content), mtime)

	// Then: the record reflects it and content is cached
	rec, ok := s.Observe("/docs/a.md")
	require.True(t, ok)
	assert.Equal(t, HashContent(content), rec.ContentHash)
	assert.Equal(t, mtime, rec.ModifiedAt)
	assert.Equal(t, int64(len(content)), rec.Size)
	assert.Equal(t, content, rec.CachedContent)
	assert.Equal(t, watcher.HealthActive, rec.WatchState)
	assert.True(t, rec.Known())
}

func TestStore_CommitClearsUnsavedAndMissing(t *testing.T) {
	s := New(4)
	s.Track("/docs/a.md")
	s.SetUnsaved("/docs/a.md", true)
	s.MarkMissing("/docs/a.md", true)
	s.SetWatchState("/docs/a.md", watcher.HealthPolling)

	s.Commit("/docs/a.md", []byte("x"), HashContent([]byte("x")), time.Now())

	rec, _ := s.Observe("/docs/a.md")
	assert.False(t, rec.Unsaved)
	assert.False(t, rec.Missing)
	// Watch state is not the store's to reset
	assert.Equal(t, watcher.HealthPolling, rec.WatchState)
}

func TestStore_CommitFiresHook(t *testing.T) {
	s := New(4)
	var got []string
	s.OnCommit(func(path string) { got = append(got, path) })

	s.Commit("/docs/a.md", nil, "h1", time.Now())
	s.Commit("/docs/b.md", nil, "h2", time.Now())

	assert.Equal(t, []string{"/docs/a.md", "/docs/b.md"}, got)
}

func TestStore_ObserveReturnsCopy(t *testing.T) {
	s := New(4)
	s.Commit("/docs/a.md", nil, "h1", time.Now())

	rec, _ := s.Observe("/docs/a.md")
	rec.ContentHash = "tampered"

	again, _ := s.Observe("/docs/a.md")
	assert.Equal(t, "h1", again.ContentHash)
}

func TestStore_ContentEvictionKeepsHash(t *testing.T) {
	// Given: a cache of one entry
	s := New(1)
	s.Commit("/a.md", []byte("a"), HashContent([]byte("a")), time.Now())
	s.Commit("/b.md", []byte("b"), HashContent([]byte("b")), time.Now())

	// Then: a's body is evicted but its hash remains authoritative
	rec, ok := s.Observe("/a.md")
	require.True(t, ok)
	assert.Nil(t, rec.CachedContent)
	assert.Equal(t, HashContent([]byte("a")), rec.ContentHash)
}

func TestStore_TrackIsIdempotent(t *testing.T) {
	s := New(4)
	assert.True(t, s.Track("/a.md"))
	assert.False(t, s.Track("/a.md"))
	assert.Equal(t, 1, s.Len())

	rec, _ := s.Observe("/a.md")
	assert.False(t, rec.Known())
}

func TestStore_SetUnsavedUntracked(t *testing.T) {
	s := New(4)
	assert.False(t, s.SetUnsaved("/nope.md", true))
}

func TestStore_Forget(t *testing.T) {
	s := New(4)
	s.Commit("/a.md", []byte("a"), "h", time.Now())

	s.Forget("/a.md")
	s.Forget("/a.md")

	_, ok := s.Observe("/a.md")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestStore_SlotOwner(t *testing.T) {
	// Given: Notes.md is tracked
	s := New(4)
	s.Track("/docs/Notes.md")

	// Then: notes.md collides with it, Notes.md itself does not
	owner, ok := s.SlotOwner("/docs/notes.md")
	assert.True(t, ok)
	assert.Equal(t, "/docs/Notes.md", owner)

	_, ok = s.SlotOwner("/docs/Notes.md")
	assert.False(t, ok)

	// When: the owner is forgotten while the other spelling is tracked
	s.Track("/docs/notes.md")
	s.Forget("/docs/Notes.md")

	// Then: the slot passes to the remaining record
	owner, ok = s.SlotOwner("/docs/NOTES.md")
	assert.True(t, ok)
	assert.Equal(t, "/docs/notes.md", owner)
}

func TestStore_PathsSorted(t *testing.T) {
	s := New(4)
	s.Track("/c.md")
	s.Track("/a.md")
	s.Track("/b.md")
	assert.Equal(t, []string{"/a.md", "/b.md", "/c.md"}, s.Paths())
}

func TestHashContent(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashContent(nil))
	assert.NotEqual(t, HashContent([]byte("a")), HashContent([]byte("b")))
}

func TestCanonical(t *testing.T) {
	dir := t.TempDir()
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "a.md")
		require.NoError(t, os.WriteFile(path, []byte("a"), 0o644))
		got, err := Canonical(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(resolvedDir, "a.md"), got)
	})

	t.Run("missing file resolves through parent", func(t *testing.T) {
		got, err := Canonical(filepath.Join(dir, "sub", "..", "later.md"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(resolvedDir, "later.md"), got)
	})

	t.Run("symlink resolves to target", func(t *testing.T) {
		target := filepath.Join(dir, "t.md")
		link := filepath.Join(dir, "l.md")
		require.NoError(t, os.WriteFile(target, []byte("t"), 0o644))
		require.NoError(t, os.Symlink(target, link))
		got, err := Canonical(link)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(resolvedDir, "t.md"), got)
	})
}

func TestStore_ClaimSlot(t *testing.T) {
	// Given: two spellings of one slot
	s := New(4)
	s.Track("/docs/Board.md")
	s.Track("/docs/board.md")

	owner, ok := s.SlotOwner("/docs/board.md")
	require.True(t, ok)
	assert.Equal(t, "/docs/Board.md", owner)

	// When: the newer spelling claims the slot
	assert.True(t, s.ClaimSlot("/docs/board.md"))

	// Then: it owns it
	owner, ok = s.SlotOwner("/docs/Board.md")
	require.True(t, ok)
	assert.Equal(t, "/docs/board.md", owner)
	assert.False(t, s.ClaimSlot("/docs/untracked.md"))
}
