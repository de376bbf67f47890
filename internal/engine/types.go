// Package engine defines the scan-engine contract and the data model that
// flows through it: ScanContext in, EngineResult out, aggregated by the
// caller into an AggregatedResult.
package engine

import (
	"context"
	"time"
)

// Verdict is the three-valued (plus Unknown) classification an engine or
// the aggregator assigns to a file.
type Verdict string

const (
	VerdictClean      Verdict = "Clean"
	VerdictSuspicious Verdict = "Suspicious"
	VerdictMalicious  Verdict = "Malicious"
	VerdictUnknown    Verdict = "Unknown"
)

// AggregateVerdict is the policy-level verdict the aggregator assigns.
type AggregateVerdict string

const (
	Allow       AggregateVerdict = "Allow"
	NeedsReview AggregateVerdict = "NeedsReview"
	Quarantine  AggregateVerdict = "Quarantine"
	Block       AggregateVerdict = "Block"
)

// ChangeKind is the kind of filesystem change a watcher adapter reports.
type ChangeKind string

const (
	Created  ChangeKind = "Created"
	Modified ChangeKind = "Modified"
	Renamed  ChangeKind = "Renamed"
)

// PEInfo is the subset of a parsed PE file that engines consult. It is
// produced by the internal/pe parser, a pure function over bytes.
type PEInfo struct {
	Valid              bool
	Architecture       string
	SectionNames       []string
	ImportedDLLs       []string
	ImportedSymbols    []string
	Entropy            float64
	TimestampUnix      int64
	HasSignature       bool
	OverlayRatio       float64
}

// ScanContext is the immutable, per-file bundle passed to every engine.
// It is built once by the context builder (internal/fsid) and discarded
// after aggregation.
type ScanContext struct {
	Path          string
	Size          int64
	LastWriteTime time.Time
	CreationTime  time.Time
	Extension     string // lowercased, including leading dot

	SHA256 string // hex, lowercase; empty if not yet hashed
	MD5    string // hex, lowercase

	PE *PEInfo // nil if the file is not a valid PE

	SignerName       string
	SignatureValid   bool

	FromTempOrAppData bool
	InStartupPath     bool
	InQuarantineRoot  bool

	PrevalenceSeenCount int
	PrevalenceFirstSeen time.Time
	PrevalenceLastSeen  time.Time
}

// EngineResult is the immutable verdict a single engine returns for a
// ScanContext.
type EngineResult struct {
	EngineName string
	Score      int // 0..100
	Verdict    Verdict
	Confidence float64 // 0.0..1.0
	Reasons    []string
	Metadata   map[string]interface{}
	Error      string // non-empty => Verdict=Unknown, Score=0, excluded from aggregation
}

// IsError reports whether this result carries an engine-internal error.
func (r EngineResult) IsError() bool { return r.Error != "" }

// ErrorResult builds the canonical Error EngineResult for engine e, per the
// invariant: error set => verdict=Unknown, score=0.
func ErrorResult(engineName, reason string) EngineResult {
	return EngineResult{
		EngineName: engineName,
		Score:      0,
		Verdict:    VerdictUnknown,
		Confidence: 0,
		Reasons:    []string{reason},
		Error:      reason,
	}
}

// AggregatedResult is the aggregator's public output for one file.
type AggregatedResult struct {
	FilePath      string
	RiskScore     int
	Verdict       AggregateVerdict
	Reasons       []string
	EngineResults []EngineResult
	Duration      time.Duration
	ScannedAt     time.Time
	CorrelationID string
}

// SignatureRecord is a single signature-database entry, indexed by SHA256
// and/or MD5.
type SignatureRecord struct {
	SHA256      string `json:"sha256,omitempty"`
	MD5         string `json:"md5,omitempty"`
	Name        string `json:"name"`
	Family      string `json:"family"`
	Description string `json:"description,omitempty"`
	ThreatLevel int    `json:"threat_level"`
	AddedAt     time.Time `json:"added_at"`
	Source      string `json:"source,omitempty"`
}

// PrevalenceEntry tracks local sightings of a content hash.
type PrevalenceEntry struct {
	FirstSeenUTC time.Time
	LastSeenUTC  time.Time
	SeenCount    int
}

// Engine is the capability every scan engine exposes.
type Engine interface {
	Name() string
	DefaultWeight() float64
	Ready() bool
	Scan(ctx context.Context, sc *ScanContext) EngineResult
}

// dedupReasons performs order-preserving deduplication, used by the
// aggregator and by any engine that merges reason lists from sub-checks.
func dedupReasons(all []string) []string {
	seen := make(map[string]struct{}, len(all))
	out := make([]string, 0, len(all))
	for _, r := range all {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DedupReasons is the exported form used by the aggregator package.
func DedupReasons(all []string) []string { return dedupReasons(all) }
