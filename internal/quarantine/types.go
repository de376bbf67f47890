package quarantine

import "time"

// Entry is a single quarantined file's record.
type Entry struct {
	ID            string    `json:"id"`
	OriginalPath  string    `json:"original_path"`
	OriginalName  string    `json:"original_name"`
	FileSize      int64     `json:"file_size"`
	SHA256        string    `json:"sha256"`
	ContentKeyWrapped []byte `json:"content_key_wrapped"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	ThreatName    string    `json:"threat_name,omitempty"`
	RiskScore     int       `json:"risk_score"`
	Verdict       string    `json:"verdict"`
	Reasons       []string  `json:"reasons"`
	Restored      bool      `json:"restored"`
	RestorePath   string    `json:"restore_path,omitempty"`

	// OriginalRemoved and RemovalError are transient, populated only on
	// the Entry returned by Quarantine and never persisted to the
	// journal: they tell the caller whether the source file actually
	// disappeared from its original location, so a failed removal can
	// be reported honestly instead of assumed.
	OriginalRemoved bool  `json:"-"`
	RemovalError    error `json:"-"`
}

// Summary is the subset of an Entry returned by list_quarantine.
type Summary struct {
	ID            string    `json:"id"`
	OriginalPath  string    `json:"original_path"`
	FileSize      int64     `json:"file_size"`
	ThreatName    string    `json:"threat_name,omitempty"`
	RiskScore     int       `json:"risk_score"`
	Verdict       string    `json:"verdict"`
	QuarantinedAt time.Time `json:"quarantined_at"`
	Restored      bool      `json:"restored"`
}

func (e Entry) Summary() Summary {
	return Summary{
		ID: e.ID, OriginalPath: e.OriginalPath, FileSize: e.FileSize,
		ThreatName: e.ThreatName, RiskScore: e.RiskScore, Verdict: e.Verdict,
		QuarantinedAt: e.QuarantinedAt, Restored: e.Restored,
	}
}
