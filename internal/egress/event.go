// Package egress carries outbound notification events from the engine
// core to whatever transport publishes them — the WebSocket hub, the
// NATS bridge, the desktop notifier. Deliberately a narrow envelope of
// just type+payload: every egress event is simply broadcast to all
// subscribers, so there's no source/target/priority routing to carry.
package egress

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the egress event kinds.
type Type string

const (
	ScanProgress        Type = "ScanProgress"
	ThreatDetected      Type = "ThreatDetected"
	ThreatActionRequired Type = "ThreatActionRequired"
	ThreatActionApplied Type = "ThreatActionApplied"
	ScanCompleted       Type = "ScanCompleted"
)

// Event is the transport envelope for an outbound notification.
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// New wraps payload in an Event of the given type, stamped with a fresh
// ID and the current time.
func New(t Type, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// ThreatDetectedPayload backs the ThreatDetected egress event.
type ThreatDetectedPayload struct {
	Path            string `json:"path"`
	Name            string `json:"name"`
	Verdict         string `json:"verdict"`
	RiskScore       int    `json:"risk_score"`
	AutoQuarantined bool   `json:"auto_quarantined"`
	// FailureReason is set when a threat-related action (quarantine,
	// direct delete) could not be completed, so a caller can explain why
	// auto_quarantined came back false despite a non-Allow verdict.
	FailureReason string `json:"failure_reason,omitempty"`
}

// ScanProgressPayload backs the ScanProgress egress event.
type ScanProgressPayload struct {
	JobID        string `json:"job_id"`
	Total        int    `json:"total"`
	Scanned      int    `json:"scanned"`
	ThreatsFound int    `json:"threats_found"`
	CurrentPath  string `json:"current_path"`
	Status       string `json:"status"`
}

// ScanCompletedPayload backs the ScanCompleted egress event.
type ScanCompletedPayload struct {
	JobID        string `json:"job_id"`
	Total        int    `json:"total"`
	ThreatsFound int    `json:"threats_found"`
	DurationMS   int64  `json:"duration_ms"`
}

// Sink is anything that can accept outbound egress events — the
// WebSocket hub, the NATS bridge, a test double.
type Sink interface {
	Publish(Event)
}

// Broadcaster fans a single Publish call out to every registered Sink,
// so callers (the executor, the pipeline, the scan job runner) depend on
// one interface regardless of how many transports are wired up.
type Broadcaster struct {
	sinks []Sink
}

// NewBroadcaster creates a Broadcaster fanning out to sinks.
func NewBroadcaster(sinks ...Sink) *Broadcaster {
	return &Broadcaster{sinks: sinks}
}

// Publish delivers ev to every registered sink.
func (b *Broadcaster) Publish(ev Event) {
	for _, s := range b.sinks {
		s.Publish(ev)
	}
}

// Add registers an additional sink (used when the control surface's
// WebSocket hub comes up after the core has already started emitting).
func (b *Broadcaster) Add(s Sink) {
	b.sinks = append(b.sinks, s)
}
