// Package filestate holds the last accepted state of every tracked file.
//
// The store is a plain cache: it never touches the disk and has no error
// conditions. It is owned by a single coordinator and mutated only from the
// coordinator's serialized turns, so it carries no lock of its own.
package filestate

import (
	"os"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/mdsentry/internal/watcher"
)

// DefaultContentEntries bounds how many file bodies stay cached in memory.
const DefaultContentEntries = 256

// Record is the last-known-good state of one file.
type Record struct {
	// Path is absolute and canonical.
	Path        string
	ContentHash string
	ModifiedAt  time.Time
	Size        int64

	// CachedContent is the accepted content, when still resident in the LRU.
	CachedContent []byte

	WatchState watcher.Health

	// Unsaved reports that in-memory content diverges from disk.
	Unsaved bool

	// Missing is set once a probe found the file absent.
	Missing bool

	identity os.FileInfo
}

// Identity returns the file identity recorded at the last probe, if any.
func (r Record) Identity() os.FileInfo { return r.identity }

// Known reports whether the record has ever been committed.
func (r Record) Known() bool { return r.ContentHash != "" }

// Store maps canonical paths to records.
type Store struct {
	records  map[string]*Record
	slots    map[string]string
	content  *lru.Cache[string, []byte]
	onCommit func(path string)
}

// New creates a store caching at most contentEntries file bodies.
func New(contentEntries int) *Store {
	if contentEntries <= 0 {
		contentEntries = DefaultContentEntries
	}
	cache, _ := lru.New[string, []byte](contentEntries)
	return &Store{
		records: make(map[string]*Record),
		slots:   make(map[string]string),
		content: cache,
	}
}

// OnCommit registers fn to run after every Commit. The coordinator uses it
// to invalidate pending queue entries that the commit made stale.
func (s *Store) OnCommit(fn func(path string)) {
	s.onCommit = fn
}

// Observe returns a copy of the record for path.
func (s *Store) Observe(path string) (Record, bool) {
	r, ok := s.records[path]
	if !ok {
		return Record{}, false
	}
	out := *r
	if body, ok := s.content.Get(path); ok {
		out.CachedContent = body
	}
	return out, true
}

// Track ensures a record exists for path and reports whether it was created.
// New records start ACTIVE with no content.
func (s *Store) Track(path string) bool {
	if _, ok := s.records[path]; ok {
		return false
	}
	s.records[path] = &Record{Path: path, WatchState: watcher.HealthActive}
	if _, held := s.slots[SlotKey(path)]; !held {
		s.slots[SlotKey(path)] = path
	}
	return true
}

// Commit overwrites the record with accepted content, clearing Unsaved and
// Missing. Watch state and identity survive.
func (s *Store) Commit(path string, content []byte, hash string, mtime time.Time) {
	s.Track(path)
	r := s.records[path]
	r.ContentHash = hash
	r.ModifiedAt = mtime
	r.Size = int64(len(content))
	r.Unsaved = false
	r.Missing = false
	if content != nil {
		s.content.Add(path, content)
	} else {
		s.content.Remove(path)
	}

	if s.onCommit != nil {
		s.onCommit(path)
	}
}

// SetUnsaved records whether path has in-memory changes.
// Returns false when path is not tracked.
func (s *Store) SetUnsaved(path string, unsaved bool) bool {
	r, ok := s.records[path]
	if ok {
		r.Unsaved = unsaved
	}
	return ok
}

// SetWatchState records the watch health for path.
func (s *Store) SetWatchState(path string, state watcher.Health) {
	if r, ok := s.records[path]; ok {
		r.WatchState = state
	}
}

// MarkMissing records whether the last probe found path absent.
func (s *Store) MarkMissing(path string, missing bool) {
	if r, ok := s.records[path]; ok {
		r.Missing = missing
	}
}

// SetIdentity records the os.FileInfo of the file currently at path.
func (s *Store) SetIdentity(path string, info os.FileInfo) {
	if r, ok := s.records[path]; ok {
		r.identity = info
	}
}

// Forget drops path entirely.
func (s *Store) Forget(path string) {
	if _, ok := s.records[path]; !ok {
		return
	}
	delete(s.records, path)
	s.content.Remove(path)

	key := SlotKey(path)
	if s.slots[key] != path {
		return
	}
	delete(s.slots, key)
	// Hand the slot to any remaining record sharing it.
	for p := range s.records {
		if SlotKey(p) == key {
			s.slots[key] = p
			break
		}
	}
}

// SlotOwner returns the tracked path occupying the same logical slot as path
// (same location ignoring case) when that path is a different string.
func (s *Store) SlotOwner(path string) (string, bool) {
	owner, ok := s.slots[SlotKey(path)]
	if !ok || owner == path {
		return "", false
	}
	return owner, true
}

// ClaimSlot makes path the owner of its logical slot. Returns false when
// path is not tracked.
func (s *Store) ClaimSlot(path string) bool {
	if _, ok := s.records[path]; !ok {
		return false
	}
	s.slots[SlotKey(path)] = path
	return true
}

// Paths returns every tracked path, sorted.
func (s *Store) Paths() []string {
	out := make([]string, 0, len(s.records))
	for p := range s.records {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked files.
func (s *Store) Len() int { return len(s.records) }

// SlotKey folds a canonical path to the logical slot it occupies.
func SlotKey(path string) string {
	return strings.ToLower(path)
}
