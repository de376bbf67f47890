// Package quarantine implements the quarantine store:
// files moved out of the filesystem into an encrypted blob vault with a
// SQLite metadata journal, and restorable back to disk.
package quarantine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/errkind"
	"github.com/sentineld/sentineld/internal/logging"
)

const (
	blobExt     = ".qvault"
	inFlightExt = ".qvault.in"
)

// Store orchestrates moving scanned files into the encrypted vault and
// back.
type Store struct {
	log      *logging.Logger
	vaultDir string
	journal  *Journal
	master   MasterKeyProvider
	retry    RetryPolicy
}

// New opens (or creates) a quarantine vault rooted at vaultDir, backed by
// a metadata journal at journalPath. retry governs the atomic move's
// rename/delete backoff; pass DefaultRetryPolicy() absent a loaded
// configuration.
func New(vaultDir, journalPath string, master MasterKeyProvider, retry RetryPolicy) (*Store, error) {
	if err := os.MkdirAll(vaultDir, 0700); err != nil {
		return nil, fmt.Errorf("create quarantine vault dir: %w", err)
	}
	j, err := OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		log:      logging.New("QUARANTINE"),
		vaultDir: vaultDir,
		journal:  j,
		master:   master,
		retry:    retry,
	}, nil
}

// Close releases the journal's database handle.
func (s *Store) Close() error {
	return s.journal.Close()
}

func (s *Store) blobPath(id string) string {
	return filepath.Join(s.vaultDir, id+blobExt)
}

func (s *Store) inFlightPath(id string) string {
	return filepath.Join(s.vaultDir, id+inFlightExt)
}

// Quarantine moves the file at sc.Path into the vault, encrypting its
// contents, and records metadata derived from result. The move prefers
// a same-volume rename of the plaintext into the vault (try_atomic_move)
// before falling back to copy+verify+delete; either way the returned
// Entry's OriginalRemoved/RemovalError report whether the source path
// was actually vacated, since a vaulted-but-not-removed original is not
// the same outcome as a clean move.
func (s *Store) Quarantine(sc *engine.ScanContext, result engine.AggregatedResult) (Entry, error) {
	id := uuid.NewString()
	inFlight := s.inFlightPath(id)

	moved, originalRemoved, err := s.tryAtomicMove(sc.Path, inFlight)
	if !moved {
		return Entry{}, errkind.New(errkind.IoError, sc.Path, err)
	}

	plaintext, err := os.ReadFile(inFlight)
	if err != nil {
		return Entry{}, errkind.New(errkind.IoError, inFlight, err)
	}

	blob, err := encryptBlob(plaintext, s.master)
	if err != nil {
		return Entry{}, fmt.Errorf("encrypt quarantine blob: %w", err)
	}
	// The wrapped content key follows magic, version and content nonce in
	// encryptBlob's header; the journal keeps a copy of it.
	keyOff := 4 + 4 + chacha20poly1305.NonceSize
	keyLen := int(binary.LittleEndian.Uint32(blob[keyOff : keyOff+4]))
	wrappedKey := blob[keyOff+4 : keyOff+4+keyLen]

	dest := s.blobPath(id)
	if err := writeBlobAtomic(dest, blob); err != nil {
		return Entry{}, fmt.Errorf("write quarantine blob: %w", err)
	}
	os.Remove(inFlight) // content is committed to dest; staging file is disposable

	entry := Entry{
		ID:              id,
		OriginalPath:    sc.Path,
		OriginalName:    filepath.Base(sc.Path),
		FileSize:        sc.Size,
		SHA256:          sc.SHA256,
		ContentKeyWrapped: wrappedKey,
		QuarantinedAt:   time.Now().UTC(),
		ThreatName:      primaryThreatName(result),
		RiskScore:       result.RiskScore,
		Verdict:         string(result.Verdict),
		Reasons:         result.Reasons,
		OriginalRemoved: originalRemoved,
	}

	if err := s.journal.Insert(entry); err != nil {
		os.Remove(dest)
		return Entry{}, fmt.Errorf("journal quarantine entry: %w", err)
	}

	if !originalRemoved {
		entry.RemovalError = fmt.Errorf("original file %s could not be removed after vaulting", sc.Path)
		s.log.Printf("quarantined %s (id=%s) but could not remove original: %v", sc.Path, id, entry.RemovalError)
	} else {
		s.log.Printf("quarantined %s (id=%s, risk=%d, verdict=%s)", sc.Path, id, result.RiskScore, result.Verdict)
	}
	return entry, nil
}

// tryAtomicMove implements try_atomic_move: a same-volume rename of src
// into inFlight, retried with exponential backoff, falling back to
// copy+verify+delete when rename never succeeds (e.g. src and the vault
// live on different volumes). moved reports whether the content made it
// into the vault at all; originalRemoved reports whether src was
// actually vacated, which can be false even when moved is true (a
// verified copy whose subsequent delete of src keeps failing).
func (s *Store) tryAtomicMove(src, inFlight string) (moved, originalRemoved bool, err error) {
	renameErr := RetryWithBackoff(s.retry, func() error {
		return os.Rename(src, inFlight)
	})
	if renameErr == nil {
		return true, true, nil
	}

	if copyErr := copyFileVerified(src, inFlight); copyErr != nil {
		return false, false, fmt.Errorf("rename failed (%v) and copy fallback failed: %w", renameErr, copyErr)
	}

	removeErr := RetryWithBackoff(s.retry, func() error {
		rmErr := os.Remove(src)
		if rmErr == nil || os.IsNotExist(rmErr) {
			return nil
		}
		return rmErr
	})
	return true, removeErr == nil, nil
}

// copyFileVerified copies src to dst and confirms the written bytes
// hash-match what was read from src before reporting success, since the
// rename-fallback path only gets to delete src once the copy is known
// good.
func copyFileVerified(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source for copy fallback: %w", err)
	}
	want := sha256.Sum256(data)

	if err := writeBlobAtomic(dst, data); err != nil {
		return fmt.Errorf("write copy fallback: %w", err)
	}

	written, err := os.ReadFile(dst)
	if err != nil {
		return fmt.Errorf("verify copy fallback: %w", err)
	}
	if sha256.Sum256(written) != want {
		os.Remove(dst)
		return fmt.Errorf("copy fallback integrity check failed for %s", src)
	}
	return nil
}

// Restore decrypts the vaulted blob for id and writes it back to
// destPath (the original path by default), marking the entry restored.
func (s *Store) Restore(id, destPath string) error {
	entry, err := s.journal.Get(id)
	if err != nil {
		return err
	}
	if destPath == "" {
		destPath = entry.OriginalPath
	}

	blob, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		return errkind.New(errkind.IoError, s.blobPath(id), err)
	}
	plaintext, err := decryptBlob(blob, s.master)
	if err != nil {
		return errkind.New(errkind.IntegrityFailure, s.blobPath(id), err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create restore destination dir: %w", err)
	}
	if err := writeBlobAtomic(destPath, plaintext); err != nil {
		return fmt.Errorf("write restored file: %w", err)
	}

	if err := s.journal.MarkRestored(id, destPath); err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}

	s.log.Printf("restored quarantine entry %s to %s", id, destPath)
	return nil
}

// Delete permanently removes a vaulted blob and its journal record. The
// blob is overwritten before unlink as a best-effort wipe; this is not a
// guarantee against forensic recovery on all filesystems, only a
// best-effort measure against casual inspection.
func (s *Store) Delete(id string) error {
	path := s.blobPath(id)
	if err := bestEffortWipe(path); err != nil && !os.IsNotExist(err) {
		s.log.Printf("wipe-before-delete failed for %s: %v", path, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.IoError, path, err)
	}
	if err := s.journal.Delete(id); err != nil {
		return fmt.Errorf("delete journal entry: %w", err)
	}
	s.log.Printf("permanently deleted quarantine entry %s", id)
	return nil
}

// List returns summaries of all quarantined entries, most recent first.
func (s *Store) List() ([]Summary, error) {
	entries, err := s.journal.List()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(entries))
	for i, e := range entries {
		out[i] = e.Summary()
	}
	return out, nil
}

// Get returns the full entry for id.
func (s *Store) Get(id string) (Entry, error) {
	return s.journal.Get(id)
}

// RecoverOrphans scans the vault directory for blob files with no
// matching journal record (e.g. left behind by a crash between blob
// write and journal insert) and for .qvault.in staging files left by a
// crash mid atomic-move, reporting their IDs so an operator can decide
// whether to delete or attempt a manual restore. It does not delete
// anything itself.
func (s *Store) RecoverOrphans() ([]string, error) {
	entries, err := s.journal.List()
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.ID] = true
	}

	dirEntries, err := os.ReadDir(s.vaultDir)
	if err != nil {
		return nil, fmt.Errorf("read vault dir: %w", err)
	}
	var orphans []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		switch {
		case strings.HasSuffix(name, inFlightExt):
			orphans = append(orphans, strings.TrimSuffix(name, inFlightExt))
		case strings.HasSuffix(name, blobExt):
			id := strings.TrimSuffix(name, blobExt)
			if !known[id] {
				orphans = append(orphans, id)
			}
		}
	}
	return orphans, nil
}

func primaryThreatName(result engine.AggregatedResult) string {
	for _, r := range result.EngineResults {
		if r.EngineName == "signature" && !r.IsError() && len(r.Reasons) > 0 {
			return r.Reasons[0]
		}
	}
	if len(result.Reasons) > 0 {
		return result.Reasons[0]
	}
	return "unknown threat"
}

// writeBlobAtomic writes data to a temp file in the same directory as
// dest, then renames it into place, so a crash never leaves a
// half-written blob at the final path.
func writeBlobAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".quarantine-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

func bestEffortWipe(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	zeros := make([]byte, 64*1024)
	remaining := info.Size()
	for remaining > 0 {
		n := int64(len(zeros))
		if remaining < n {
			n = remaining
		}
		written, werr := f.Write(zeros[:n])
		if werr != nil {
			return werr
		}
		remaining -= int64(written)
	}
	return nil
}
