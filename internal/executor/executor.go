// Package executor implements the action executor:
// policy-driven dispatch from an aggregated scan result to a concrete
// filesystem action, plus the pending-decision registry backing the
// ask-user mode. Mode dispatch is a single entry point switching
// behavior by an enumerated mode; the registry is a single-writer-per-key
// `map[string]*PendingDecision`, since ordering doesn't matter here.
package executor

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/errkind"
	"github.com/sentineld/sentineld/internal/logging"
	"github.com/sentineld/sentineld/internal/quarantine"
)

// Action is the decision resolved either automatically or by a user
// responding to a PendingDecision.
type Action string

const (
	ActionQuarantine Action = "Quarantine"
	ActionDelete     Action = "Delete"
	ActionAllow      Action = "Allow"
)

// Outcome is what Apply actually did.
type Outcome string

const (
	OutcomeAllowedAllowlist Outcome = "Allowed (allowlist)"
	OutcomeQuarantined      Outcome = "Quarantined"
	OutcomeDeleted          Outcome = "Deleted"
	OutcomeMonitor          Outcome = "Monitor"
	OutcomePending          Outcome = "Pending"
)

// PendingDecision is the in-memory-only record awaiting a user's
// resolve_threat call.
type PendingDecision struct {
	EventID           string                  `json:"event_id"`
	ContextSummary    ContextSummary          `json:"context_summary"`
	ResultSummary     ResultSummary           `json:"result_summary"`
	RecommendedAction Action                  `json:"recommended_action"`
	CreatedAt         time.Time               `json:"created_at"`

	sc     *engine.ScanContext
	result engine.AggregatedResult
}

// ContextSummary is the reduced ScanContext carried on a PendingDecision DTO.
type ContextSummary struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ResultSummary is the reduced AggregatedResult carried on a PendingDecision DTO.
type ResultSummary struct {
	RiskScore int      `json:"risk_score"`
	Verdict   string   `json:"verdict"`
	Reasons   []string `json:"reasons"`
}

// Executor applies the configured real-time action policy to aggregated
// scan results.
type Executor struct {
	log        *logging.Logger
	cfg        *config.Config
	configPath string
	quarantine *quarantine.Store
	registry   *Registry
	broadcaster *egress.Broadcaster
}

// New creates an Executor. configPath is where AddToAllowlist changes are
// persisted; pass "" to disable config persistence (e.g. in tests).
func New(cfg *config.Config, configPath string, q *quarantine.Store, b *egress.Broadcaster) *Executor {
	return &Executor{
		log:         logging.New("EXECUTOR"),
		cfg:         cfg,
		configPath:  configPath,
		quarantine:  q,
		registry:    NewRegistry(),
		broadcaster: b,
	}
}

// Registry returns the pending-decision registry, for the control
// surface's list_pending_threats/resolve_threat handlers.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Apply dispatches result according to the configured policy mode.
func (e *Executor) Apply(sc *engine.ScanContext, result engine.AggregatedResult) (Outcome, error) {
	if e.cfg.IsAllowlisted(sc.SHA256) {
		return OutcomeAllowedAllowlist, nil
	}

	switch e.cfg.RealTimeActionMode {
	case config.ModeAutoQuarantine:
		return e.applyAutoQuarantine(sc, result)
	case config.ModeAutoBlock:
		return e.applyAutoBlock(sc, result)
	case config.ModeAskUser:
		return e.applyAskUser(sc, result)
	default:
		return "", fmt.Errorf("unknown action mode %q", e.cfg.RealTimeActionMode)
	}
}

func (e *Executor) applyAutoQuarantine(sc *engine.ScanContext, result engine.AggregatedResult) (Outcome, error) {
	if result.Verdict == engine.Allow {
		return OutcomeMonitor, nil
	}
	if err := e.quarantineAndNotify(sc, result); err != nil {
		return "", err
	}
	return OutcomeQuarantined, nil
}

func (e *Executor) applyAutoBlock(sc *engine.ScanContext, result engine.AggregatedResult) (Outcome, error) {
	if result.Verdict == engine.Allow {
		return OutcomeMonitor, nil
	}
	if err := e.deleteAndNotify(sc, result); err != nil {
		return "", err
	}
	return OutcomeDeleted, nil
}

func (e *Executor) applyAskUser(sc *engine.ScanContext, result engine.AggregatedResult) (Outcome, error) {
	if e.isDefinitiveMatch(result) || result.RiskScore >= e.cfg.AutoQuarantineMin {
		if err := e.quarantineAndNotify(sc, result); err != nil {
			return "", err
		}
		return OutcomeQuarantined, nil
	}
	if result.RiskScore >= e.cfg.AskUserMin {
		e.enqueuePending(sc, result)
		return OutcomePending, nil
	}
	return OutcomeMonitor, nil
}

func (e *Executor) isDefinitiveMatch(result engine.AggregatedResult) bool {
	for _, r := range result.EngineResults {
		if r.IsError() {
			continue
		}
		if r.Confidence >= 0.95 && r.Score >= 95 {
			return true
		}
	}
	return false
}

func (e *Executor) quarantineAndNotify(sc *engine.ScanContext, result engine.AggregatedResult) error {
	entry, err := e.quarantine.Quarantine(sc, result)
	if err != nil {
		return fmt.Errorf("quarantine: %w", err)
	}
	payload := egress.ThreatDetectedPayload{
		Path: sc.Path, Name: entry.ThreatName, Verdict: string(result.Verdict),
		RiskScore: result.RiskScore, AutoQuarantined: entry.OriginalRemoved,
	}
	if !entry.OriginalRemoved {
		payload.FailureReason = entry.RemovalError.Error()
	}
	e.publish(egress.ThreatDetected, payload)
	if entry.OriginalRemoved {
		e.log.Printf("quarantined %s (risk=%d verdict=%s)", sc.Path, result.RiskScore, result.Verdict)
	} else {
		e.log.Printf("quarantined %s but original file remains on disk (risk=%d verdict=%s): %v", sc.Path, result.RiskScore, result.Verdict, entry.RemovalError)
	}
	return nil
}

func (e *Executor) deleteAndNotify(sc *engine.ScanContext, result engine.AggregatedResult) error {
	payload := egress.ThreatDetectedPayload{
		Path: sc.Path, Name: primaryReason(result), Verdict: string(result.Verdict),
		RiskScore: result.RiskScore,
	}
	if err := deletePathWithRetry(sc.Path, e.cfg); err != nil {
		payload.FailureReason = err.Error()
		e.publish(egress.ThreatDetected, payload)
		return errkind.New(errkind.IoError, sc.Path, err)
	}
	e.publish(egress.ThreatDetected, payload)
	e.log.Printf("deleted %s (risk=%d verdict=%s)", sc.Path, result.RiskScore, result.Verdict)
	return nil
}

func (e *Executor) enqueuePending(sc *engine.ScanContext, result engine.AggregatedResult) {
	eventID := uuid.NewString()
	pd := &PendingDecision{
		EventID:           eventID,
		ContextSummary:    ContextSummary{Path: sc.Path, SHA256: sc.SHA256, Size: sc.Size},
		ResultSummary:     ResultSummary{RiskScore: result.RiskScore, Verdict: string(result.Verdict), Reasons: result.Reasons},
		RecommendedAction: recommendedActionFor(result),
		CreatedAt:         time.Now().UTC(),
		sc:                sc,
		result:            result,
	}
	e.registry.Add(pd)
	e.publish(egress.ThreatActionRequired, pd)
	e.log.Printf("pending decision %s for %s (risk=%d)", eventID, sc.Path, result.RiskScore)
}

func recommendedActionFor(result engine.AggregatedResult) Action {
	if result.Verdict == engine.Block {
		return ActionDelete
	}
	return ActionQuarantine
}

// Resolve applies the user's chosen action to the PendingDecision
// identified by eventID, atomically removing it from the registry.
// addToExclusions, when true and action is Allow, adds the file's
// SHA-256 to the allowlist, persists the config, and restores any
// quarantine entry already created for this event.
func (e *Executor) Resolve(eventID string, action Action, addToExclusions bool) error {
	pd, ok := e.registry.Remove(eventID)
	if !ok {
		return errkind.New(errkind.NotFound, eventID, fmt.Errorf("no pending decision"))
	}

	var err error
	switch action {
	case ActionQuarantine:
		err = e.quarantineAndNotify(pd.sc, pd.result)
	case ActionDelete:
		err = e.deleteAndNotify(pd.sc, pd.result)
	case ActionAllow:
		err = e.resolveAllow(pd, addToExclusions)
	default:
		err = fmt.Errorf("unknown resolution action %q", action)
	}
	if err != nil {
		return err
	}

	e.publish(egress.ThreatActionApplied, struct {
		*PendingDecision
		AppliedAction Action `json:"applied_action"`
	}{pd, action})
	return nil
}

func (e *Executor) resolveAllow(pd *PendingDecision, addToExclusions bool) error {
	if !addToExclusions {
		return nil
	}
	e.cfg.AddToAllowlist(pd.sc.SHA256)
	if e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			return fmt.Errorf("persist allowlist: %w", err)
		}
	}
	// Restore the first not-yet-restored quarantine entry whose original
	// path is this event's path, since an explicit allow reverses it.
	entries, err := e.quarantine.List()
	if err != nil {
		return fmt.Errorf("list quarantine for restore: %w", err)
	}
	for _, s := range entries {
		if s.OriginalPath == pd.sc.Path && !s.Restored {
			if err := e.quarantine.Restore(s.ID, ""); err != nil {
				return fmt.Errorf("restore quarantine entry %s: %w", s.ID, err)
			}
			break
		}
	}
	return nil
}

func (e *Executor) publish(t egress.Type, payload interface{}) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Publish(egress.New(t, payload))
}

func primaryReason(result engine.AggregatedResult) string {
	if len(result.Reasons) > 0 {
		return result.Reasons[0]
	}
	return "unknown threat"
}

// retryPolicyFromConfig converts the configured atomic_move_* knobs into
// a quarantine.RetryPolicy, so a direct delete backs off on exactly the
// same schedule as the quarantine store's atomic move.
func retryPolicyFromConfig(cfg *config.Config) quarantine.RetryPolicy {
	return quarantine.RetryPolicy{
		MaxRetries:   cfg.AtomicMoveMaxRetries,
		InitialDelay: time.Duration(cfg.AtomicMoveInitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.AtomicMoveMaxDelayMs) * time.Millisecond,
	}
}

func deletePathWithRetry(path string, cfg *config.Config) error {
	return quarantine.RetryWithBackoff(retryPolicyFromConfig(cfg), func() error {
		err := os.Remove(path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		return err
	})
}
