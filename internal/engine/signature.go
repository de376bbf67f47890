package engine

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// eicarSHA256 is the fixed built-in self-test entry (the EICAR test string).
const eicarSHA256 = "275a021bbfb6489e54d471899f7db9d1663fc695ec2fe2a2c4538aabf651fd0f"

// SignatureEngine consults an in-memory hash database. A hit is a
// definitive match.
type SignatureEngine struct {
	mu       sync.RWMutex
	bySHA256 map[string]SignatureRecord
	byMD5    map[string]SignatureRecord
	path     string
}

// NewSignatureEngine creates a SignatureEngine seeded with the EICAR
// self-test record: a fixed built-in entry used for self-test.
func NewSignatureEngine(journalPath string) *SignatureEngine {
	e := &SignatureEngine{
		bySHA256: make(map[string]SignatureRecord),
		byMD5:    make(map[string]SignatureRecord),
		path:     journalPath,
	}
	e.addLocked(SignatureRecord{
		SHA256:      eicarSHA256,
		Name:        "EICAR-Test-File",
		Family:      "EICAR-Test-File",
		Description: "Standard antivirus test file",
		ThreatLevel: 100,
		AddedAt:     time.Time{},
		Source:      "built-in",
	})
	return e
}

func (e *SignatureEngine) Name() string          { return "signature" }
func (e *SignatureEngine) DefaultWeight() float64 { return 1.0 }
func (e *SignatureEngine) Ready() bool            { return true }

// Scan implements Engine. Hash lookups precede any file I/O: ScanContext
// is expected to already carry SHA256/MD5 by the time the signature engine
// runs, since the context builder hashes before dispatch.
func (e *SignatureEngine) Scan(_ context.Context, sc *ScanContext) EngineResult {
	if rec, ok := e.lookup(sc.SHA256, sc.MD5); ok {
		hashKind := "SHA256"
		if rec.SHA256 == "" {
			hashKind = "MD5"
		}
		return EngineResult{
			EngineName: e.Name(),
			Score:      100,
			Verdict:    VerdictMalicious,
			Confidence: 1.0,
			Reasons: []string{
				"signature match: " + rec.Family,
				hashKind + " hash match",
			},
			Metadata: map[string]interface{}{
				"signature_name":   rec.Name,
				"signature_family": rec.Family,
				"threat_level":     rec.ThreatLevel,
			},
		}
	}
	return EngineResult{
		EngineName: e.Name(),
		Score:      0,
		Verdict:    VerdictClean,
		Confidence: 0.7,
		Reasons:    []string{"no signature match"},
	}
}

func (e *SignatureEngine) lookup(sha256, md5 string) (SignatureRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if sha256 != "" {
		if rec, ok := e.bySHA256[sha256]; ok {
			return rec, true
		}
	}
	if md5 != "" {
		if rec, ok := e.byMD5[md5]; ok {
			return rec, true
		}
	}
	return SignatureRecord{}, false
}

// Add inserts or replaces a signature record, indexed by whichever hashes
// it carries.
func (e *SignatureEngine) Add(rec SignatureRecord) {
	e.mu.Lock()
	e.addLocked(rec)
	e.mu.Unlock()
}

func (e *SignatureEngine) addLocked(rec SignatureRecord) {
	if rec.SHA256 != "" {
		e.bySHA256[strings.ToLower(rec.SHA256)] = rec
	}
	if rec.MD5 != "" {
		e.byMD5[strings.ToLower(rec.MD5)] = rec
	}
}

// Count returns the number of distinct records (by SHA256 index size).
func (e *SignatureEngine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.bySHA256)
}

// ImportCSV bulk-loads records from a CSV stream with header
// "sha256,md5,name,family,description,threat_level,source".
func (e *SignatureEngine) ImportCSV(r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	imported := 0
	for _, row := range rows[1:] { // skip header
		if len(row) < 6 {
			continue
		}
		level, _ := strconv.Atoi(row[5])
		rec := SignatureRecord{
			SHA256:      strings.ToLower(strings.TrimSpace(row[0])),
			MD5:         strings.ToLower(strings.TrimSpace(row[1])),
			Name:        row[2],
			Family:      row[3],
			Description: row[4],
			ThreatLevel: level,
			AddedAt:     time.Now(),
		}
		if len(row) > 6 {
			rec.Source = row[6]
		}
		e.Add(rec)
		imported++
	}
	return imported, nil
}

// journalFile is the on-disk shape of the signature database: one JSON
// array of records, written atomically (temp + rename).
type journalFile struct {
	Records []SignatureRecord `json:"records"`
}

// Save writes the full database as a single JSON journal atomically.
func (e *SignatureEngine) Save() error {
	e.mu.RLock()
	records := make([]SignatureRecord, 0, len(e.bySHA256)+len(e.byMD5))
	seen := make(map[string]struct{})
	for _, rec := range e.bySHA256 {
		key := rec.SHA256 + "|" + rec.MD5
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}
	for _, rec := range e.byMD5 {
		key := rec.SHA256 + "|" + rec.MD5
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		records = append(records, rec)
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(journalFile{Records: records}, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, e.path)
}

// Load adds the journal file's records to the in-memory database; records
// already loaded (including the built-in EICAR seed) are kept unless the
// journal holds the same hash. A missing file is not an error.
func (e *SignatureEngine) Load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var jf journalFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	e.mu.Lock()
	for _, rec := range jf.Records {
		e.addLocked(rec)
	}
	e.mu.Unlock()
	return nil
}
