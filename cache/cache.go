// Package cache holds the fingerprints recorded for previously indexed
// source files.
//
// An entry is keyed by path and remains valid only while the live file's
// size and modification time match the recorded ones. A Store is an
// explicit value: it is loaded before indexing, consulted and updated
// during the scan, and flushed afterwards only if anything changed.
package cache

import (
	"maps"
	"sync"
	"time"
)

// Rom is one fingerprinted item found in a source file. Owner is the
// container path when the item is a container member, and empty when the
// whole file is the item.
type Rom struct {
	CRC32  uint32 `cbor:"1,keyasint"`
	Size   uint64 `cbor:"2,keyasint"`
	Owner  string `cbor:"3,keyasint,omitempty"`
	Member string `cbor:"4,keyasint"`
}

// Entry is the cached scan result for one path.
type Entry struct {
	Size    int64 `cbor:"1,keyasint"`
	ModTime int64 `cbor:"2,keyasint"`
	Roms    []Rom `cbor:"3,keyasint"`
}

// Matches reports whether the entry still describes a file of the given
// size and modification time.
func (e Entry) Matches(size int64, modTime time.Time) bool {
	return e.Size == size && e.ModTime == modTime.UnixNano()
}

// Store is a path-keyed set of cache entries. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// New returns an empty, clean store.
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// FromEntries returns a clean store holding a copy of entries.
func FromEntries(entries map[string]Entry) *Store {
	s := New()
	maps.Copy(s.entries, entries)
	return s
}

// Lookup returns the recorded roms for path if the entry is still valid for
// a file of the given size and modification time.
func (s *Store) Lookup(path string, size int64, modTime time.Time) ([]Rom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	if !ok || !e.Matches(size, modTime) {
		return nil, false
	}
	return e.Roms, true
}

// Put replaces the entry for path and marks the store dirty.
func (s *Store) Put(path string, size int64, modTime time.Time, roms []Rom) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[path] = Entry{Size: size, ModTime: modTime.UnixNano(), Roms: roms}
	s.dirty = true
}

// Dirty reports whether the store changed since it was loaded or last
// marked clean.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// MarkClean clears the dirty flag, typically after a successful flush.
func (s *Store) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of all entries.
func (s *Store) Entries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.entries)
}
