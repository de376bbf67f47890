package quarantine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentineld/sentineld/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := New(filepath.Join(dir, "vault"), filepath.Join(dir, "journal.db"), testMasterKey(), DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suspicious.exe")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestQuarantineMovesFileAndRemovesOriginal(t *testing.T) {
	st := newTestStore(t)
	path := writeTempFile(t, "malicious payload bytes")

	sc := &engine.ScanContext{Path: path, Size: 23, SHA256: "abc123"}
	result := engine.AggregatedResult{
		RiskScore: 100, Verdict: engine.Block, Reasons: []string{"signature match: EICAR-Test-File"},
	}

	entry, err := st.Quarantine(sc, result)
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if entry.SHA256 != "abc123" || entry.RiskScore != 100 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected original file to be removed after quarantine")
	}
}

func TestQuarantineThenRestoreRoundTrip(t *testing.T) {
	st := newTestStore(t)
	content := "the exact original bytes"
	path := writeTempFile(t, content)

	sc := &engine.ScanContext{Path: path, Size: int64(len(content)), SHA256: "deadbeef"}
	entry, err := st.Quarantine(sc, engine.AggregatedResult{RiskScore: 80, Verdict: engine.Quarantine})
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}

	restorePath := filepath.Join(t.TempDir(), "restored.exe")
	if err := st.Restore(entry.ID, restorePath); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(restorePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Fatalf("restored content mismatch: got %q want %q", got, content)
	}

	updated, err := st.Get(entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.Restored || updated.RestorePath != restorePath {
		t.Fatalf("expected entry marked restored: %+v", updated)
	}
}

func TestQuarantineThenDeletePermanently(t *testing.T) {
	st := newTestStore(t)
	path := writeTempFile(t, "to be deleted")
	sc := &engine.ScanContext{Path: path, Size: 13, SHA256: "feedface"}

	entry, err := st.Quarantine(sc, engine.AggregatedResult{RiskScore: 90, Verdict: engine.Block})
	if err != nil {
		t.Fatal(err)
	}

	if err := st.Delete(entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Get(entry.ID); err == nil {
		t.Fatal("expected journal entry to be gone after delete")
	}
}

func TestListReturnsSummariesMostRecentFirst(t *testing.T) {
	st := newTestStore(t)

	path1 := writeTempFile(t, "first")
	sc1 := &engine.ScanContext{Path: path1, Size: 5, SHA256: "s1"}
	if _, err := st.Quarantine(sc1, engine.AggregatedResult{RiskScore: 50, Verdict: engine.NeedsReview}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)

	path2 := writeTempFile(t, "second")
	sc2 := &engine.ScanContext{Path: path2, Size: 6, SHA256: "s2"}
	if _, err := st.Quarantine(sc2, engine.AggregatedResult{RiskScore: 90, Verdict: engine.Block}); err != nil {
		t.Fatal(err)
	}

	summaries, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].RiskScore != 90 {
		t.Fatalf("expected most recent (risk 90) first, got %+v", summaries[0])
	}
}

func TestCopyFileVerifiedMatchesSourceBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	if err := os.WriteFile(src, []byte("payload to copy"), 0644); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "dst.bin")

	if err := copyFileVerified(src, dst); err != nil {
		t.Fatalf("copyFileVerified: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload to copy" {
		t.Fatalf("unexpected copied content: %q", got)
	}
}

func TestCopyFileVerifiedFailsOnMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := copyFileVerified(filepath.Join(dir, "does-not-exist"), filepath.Join(dir, "dst.bin")); err == nil {
		t.Fatal("expected error copying a nonexistent source")
	}
}

func TestQuarantineFailsWhenSourceDisappearsBeforeMove(t *testing.T) {
	st := newTestStore(t)
	st.retry = RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	missing := filepath.Join(t.TempDir(), "already-gone.exe")
	sc := &engine.ScanContext{Path: missing, Size: 1, SHA256: "whatever"}

	if _, err := st.Quarantine(sc, engine.AggregatedResult{RiskScore: 95, Verdict: engine.Block}); err == nil {
		t.Fatal("expected an error quarantining a path that no longer exists")
	}
}

func TestRecoverOrphansDetectsUnjournaledBlob(t *testing.T) {
	st := newTestStore(t)

	orphanBlob, err := encryptBlob([]byte("orphaned content"), testMasterKey())
	if err != nil {
		t.Fatal(err)
	}
	orphanID := "orphan-id"
	if err := os.WriteFile(st.blobPath(orphanID), orphanBlob, 0600); err != nil {
		t.Fatal(err)
	}

	orphans, err := st.RecoverOrphans()
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != orphanID {
		t.Fatalf("expected to find orphan %s, got %v", orphanID, orphans)
	}
}
