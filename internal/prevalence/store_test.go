package prevalence

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestBumpFirstSightingSetsFirstSeen(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prevalence.json"))
	now := time.Now()
	e := s.Bump("abc123", now)
	if e.SeenCount != 1 {
		t.Fatalf("expected seen count 1, got %d", e.SeenCount)
	}
	if !e.FirstSeenUTC.Equal(now) {
		t.Fatalf("expected first-seen to equal now")
	}
}

func TestBumpIncrementsOnSubsequentSightings(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prevalence.json"))
	first := time.Now()
	s.Bump("abc123", first)
	e := s.Bump("abc123", first.Add(time.Minute))
	if e.SeenCount != 2 {
		t.Fatalf("expected seen count 2, got %d", e.SeenCount)
	}
	if !e.FirstSeenUTC.Equal(first) {
		t.Fatal("first-seen should not change on subsequent bumps")
	}
}

func TestBumpConcurrentSameKeyNeverLosesIncrements(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "prevalence.json"))
	now := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Bump("same-hash", now)
		}()
	}
	wg.Wait()
	e, ok := s.Get("same-hash")
	if !ok || e.SeenCount != 100 {
		t.Fatalf("expected seen count 100, got %+v", e)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if s.Len() != 0 {
		t.Fatal("expected empty store")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prevalence.json")
	s := NewStore(path)
	s.Bump("hash-a", time.Now())
	if err := s.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", reloaded.Len())
	}
}
