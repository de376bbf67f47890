// Package prevalence tracks local sightings of file content by SHA-256,
// feeding the reputation engine's "first-ever occurrence" / "common for
// N days" rules.
package prevalence

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/logging"
)

const saveDebounce = 500 * time.Millisecond

var log = logging.New("PREVALENCE")

// lockStripes bounds the number of per-key mutexes so that concurrent
// scans of *different* files never contend, while concurrent scans of the
// *same* file (the double-counting risk flagged in ) are
// serialized.
const lockStripes = 64

// Store is a concurrent, persisted map of SHA-256 -> PrevalenceEntry.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]engine.PrevalenceEntry
	stripes  [lockStripes]sync.Mutex
	filepath string
	saveMu   sync.Mutex
	saveTimer *time.Timer
}

// NewStore creates a Store backed by the given JSON file. Load must be
// called to populate it from disk.
func NewStore(filepath string) *Store {
	return &Store{
		entries:  make(map[string]engine.PrevalenceEntry),
		filepath: filepath,
	}
}

// Load reads the persisted entries from disk. A missing file is not an
// error; the store starts empty.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries map[string]engine.PrevalenceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}

// Get returns a clone of the entry for sha256, or the zero value and false.
func (s *Store) Get(sha256 string) (engine.PrevalenceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sha256]
	return e, ok
}

func (s *Store) stripe(sha256 string) *sync.Mutex {
	h := 0
	for i := 0; i < len(sha256); i++ {
		h = h*31 + int(sha256[i])
	}
	if h < 0 {
		h = -h
	}
	return &s.stripes[h%lockStripes]
}

// Bump increments the seen-count for sha256, setting FirstSeenUTC on first
// sight, and returns the entry AS UPDATED — atomically with respect to
// other concurrent Bump calls for the SAME sha256 (the per-key stripe
// lock), satisfying the engine contract that the prevalence update
// happens exactly once before the scoring decision reads it.
func (s *Store) Bump(sha256 string, now time.Time) engine.PrevalenceEntry {
	stripe := s.stripe(sha256)
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.Lock()
	e, existed := s.entries[sha256]
	if !existed {
		e = engine.PrevalenceEntry{FirstSeenUTC: now}
	}
	e.LastSeenUTC = now
	e.SeenCount++
	s.entries[sha256] = e
	s.mu.Unlock()

	s.scheduleSave()
	return e
}

// scheduleSave debounces writes the way internal persistence stores in
// this codebase do: a single pending timer coalesces bursts of updates.
func (s *Store) scheduleSave() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.saveMu.Lock()
		s.saveTimer = nil
		s.saveMu.Unlock()
		if err := s.Save(); err != nil {
			log.Printf("save failed: %v", err)
		}
	})
}

// Save atomically persists the current entries (temp file + rename).
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp := s.filepath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filepath)
}

// Len reports the number of tracked content hashes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
