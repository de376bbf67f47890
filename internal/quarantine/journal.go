// Metadata journal backing the quarantine store. Grounded on this
// codebase's SQLite event store (schema-init-on-open, parametrized
// queries, RowsAffected-checked updates) and its memory database (WAL
// journal mode, bounded connection pool).
package quarantine

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS quarantine_entries (
	id                  TEXT PRIMARY KEY,
	original_path       TEXT NOT NULL,
	original_name       TEXT NOT NULL,
	file_size           INTEGER NOT NULL,
	sha256              TEXT NOT NULL,
	content_key_wrapped BLOB NOT NULL,
	quarantined_at      TIMESTAMP NOT NULL,
	threat_name         TEXT,
	risk_score          INTEGER NOT NULL,
	verdict             TEXT NOT NULL,
	reasons             TEXT NOT NULL,
	restored            INTEGER NOT NULL DEFAULT 0,
	restore_path        TEXT
);

CREATE INDEX IF NOT EXISTS idx_quarantine_sha256 ON quarantine_entries(sha256);
CREATE INDEX IF NOT EXISTS idx_quarantine_quarantined_at ON quarantine_entries(quarantined_at);
`

// Journal persists quarantine Entry metadata in a SQLite database
// separate from the encrypted blob store, so that listing/restoring
// quarantined files never needs to touch or decrypt blob content.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if absent) the SQLite metadata journal at
// path and ensures its schema exists.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open quarantine journal: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; avoids SQLITE_BUSY on the journal file
	j := &Journal{db: db}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init quarantine journal schema: %w", err)
	}
	return j, nil
}

// Close closes the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Insert records a newly-quarantined entry.
func (j *Journal) Insert(e Entry) error {
	reasonsJSON, err := json.Marshal(e.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	_, err = j.db.Exec(`
		INSERT INTO quarantine_entries
			(id, original_path, original_name, file_size, sha256, content_key_wrapped,
			 quarantined_at, threat_name, risk_score, verdict, reasons, restored, restore_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OriginalPath, e.OriginalName, e.FileSize, e.SHA256, e.ContentKeyWrapped,
		e.QuarantinedAt, e.ThreatName, e.RiskScore, e.Verdict, string(reasonsJSON),
		boolToInt(e.Restored), e.RestorePath)
	if err != nil {
		return fmt.Errorf("insert quarantine entry: %w", err)
	}
	return nil
}

// Get retrieves a single entry by ID.
func (j *Journal) Get(id string) (Entry, error) {
	row := j.db.QueryRow(`
		SELECT id, original_path, original_name, file_size, sha256, content_key_wrapped,
		       quarantined_at, threat_name, risk_score, verdict, reasons, restored, restore_path
		FROM quarantine_entries WHERE id = ?
	`, id)
	return scanEntry(row)
}

// List returns all entries ordered by most-recently-quarantined first.
func (j *Journal) List() ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT id, original_path, original_name, file_size, sha256, content_key_wrapped,
		       quarantined_at, threat_name, risk_score, verdict, reasons, restored, restore_path
		FROM quarantine_entries ORDER BY quarantined_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list quarantine entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine entries: %w", err)
	}
	return out, nil
}

// MarkRestored updates an entry's restore status after a successful restore.
func (j *Journal) MarkRestored(id, restorePath string) error {
	result, err := j.db.Exec(`
		UPDATE quarantine_entries SET restored = 1, restore_path = ? WHERE id = ?
	`, restorePath, id)
	if err != nil {
		return fmt.Errorf("mark restored: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("quarantine entry not found: %s", id)
	}
	return nil
}

// Delete removes an entry's journal record (called after its blob has
// been permanently deleted).
func (j *Journal) Delete(id string) error {
	result, err := j.db.Exec(`DELETE FROM quarantine_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete quarantine entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("quarantine entry not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var reasonsJSON string
	var threatName, restorePath sql.NullString
	var restored int

	err := row.Scan(&e.ID, &e.OriginalPath, &e.OriginalName, &e.FileSize, &e.SHA256,
		&e.ContentKeyWrapped, &e.QuarantinedAt, &threatName, &e.RiskScore, &e.Verdict,
		&reasonsJSON, &restored, &restorePath)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, fmt.Errorf("quarantine entry not found: %w", err)
		}
		return Entry{}, fmt.Errorf("scan quarantine entry: %w", err)
	}

	e.ThreatName = threatName.String
	e.RestorePath = restorePath.String
	e.Restored = restored != 0
	if reasonsJSON != "" {
		if err := json.Unmarshal([]byte(reasonsJSON), &e.Reasons); err != nil {
			return Entry{}, fmt.Errorf("unmarshal reasons: %w", err)
		}
	}
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
