package executor

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/errkind"
	"github.com/sentineld/sentineld/internal/quarantine"
)

type fakeSink struct{ events []egress.Event }

func (f *fakeSink) Publish(ev egress.Event) { f.events = append(f.events, ev) }

func newTestMaster() quarantine.MasterKeyProvider {
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return quarantine.StaticMasterKey{Key: key}
}

func newTestExecutor(t *testing.T, mode config.ActionMode) (*Executor, *fakeSink, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.RealTimeActionMode = mode
	cfg.AutoQuarantineMin = 70
	cfg.AskUserMin = 30

	q, err := quarantine.New(filepath.Join(dir, "vault"), filepath.Join(dir, "journal.db"), newTestMaster(), quarantine.DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("new quarantine store: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	sink := &fakeSink{}
	configPath := filepath.Join(dir, "config.yaml")
	ex := New(cfg, configPath, q, egress.NewBroadcaster(sink))
	return ex, sink, dir
}

func writeVictimFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "victim.exe")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyAllowlistShortCircuits(t *testing.T) {
	ex, sink, dir := newTestExecutor(t, config.ModeAutoQuarantine)
	path := writeVictimFile(t, dir, "content")
	ex.cfg.AddToAllowlist("known-good-hash")

	sc := &engine.ScanContext{Path: path, SHA256: "known-good-hash"}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 100, Verdict: engine.Block})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeAllowedAllowlist {
		t.Fatalf("expected allowlist short-circuit, got %s", outcome)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected file untouched by allowlist short-circuit")
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no egress events for allowlist short-circuit, got %d", len(sink.events))
	}
}

func TestApplyAutoQuarantineModeQuarantinesNonAllow(t *testing.T) {
	ex, sink, dir := newTestExecutor(t, config.ModeAutoQuarantine)
	path := writeVictimFile(t, dir, "malicious bytes")

	sc := &engine.ScanContext{Path: path, SHA256: "bad-hash", Size: 15}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 95, Verdict: engine.Block, Reasons: []string{"signature match"}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeQuarantined {
		t.Fatalf("expected Quarantined, got %s", outcome)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected original file removed after quarantine")
	}
	if len(sink.events) != 1 || sink.events[0].Type != egress.ThreatDetected {
		t.Fatalf("expected one ThreatDetected event, got %+v", sink.events)
	}
}

func TestApplyAutoQuarantineModeAllowsClean(t *testing.T) {
	ex, _, dir := newTestExecutor(t, config.ModeAutoQuarantine)
	path := writeVictimFile(t, dir, "clean bytes")

	sc := &engine.ScanContext{Path: path, SHA256: "clean-hash"}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 0, Verdict: engine.Allow})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeMonitor {
		t.Fatalf("expected Monitor for Allow verdict, got %s", outcome)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected clean file left in place")
	}
}

func TestApplyAutoBlockModeDeletesFile(t *testing.T) {
	ex, sink, dir := newTestExecutor(t, config.ModeAutoBlock)
	path := writeVictimFile(t, dir, "ransomware")

	sc := &engine.ScanContext{Path: path, SHA256: "ransom-hash"}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 99, Verdict: engine.Block})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("expected Deleted, got %s", outcome)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file deleted")
	}
	if len(sink.events) != 1 || sink.events[0].Type != egress.ThreatDetected {
		t.Fatalf("expected one ThreatDetected event, got %+v", sink.events)
	}
}

func TestApplyAskUserDefinitiveMatchQuarantinesImmediately(t *testing.T) {
	ex, _, dir := newTestExecutor(t, config.ModeAskUser)
	path := writeVictimFile(t, dir, "eicar-like")

	sc := &engine.ScanContext{Path: path, SHA256: "eicar-hash"}
	result := engine.AggregatedResult{
		RiskScore: 20, Verdict: engine.NeedsReview,
		EngineResults: []engine.EngineResult{{EngineName: "signature", Score: 100, Confidence: 1.0, Verdict: engine.VerdictMalicious}},
	}
	outcome, err := ex.Apply(sc, result)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeQuarantined {
		t.Fatalf("expected definitive match to quarantine immediately, got %s", outcome)
	}
	if ex.registry.Len() != 0 {
		t.Fatal("expected no pending decision for a definitive match")
	}
}

func TestApplyAskUserMidScoreEnqueuesPending(t *testing.T) {
	ex, sink, dir := newTestExecutor(t, config.ModeAskUser)
	path := writeVictimFile(t, dir, "suspicious bytes")

	sc := &engine.ScanContext{Path: path, SHA256: "mid-hash"}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 50, Verdict: engine.NeedsReview})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomePending {
		t.Fatalf("expected Pending, got %s", outcome)
	}
	if ex.registry.Len() != 1 {
		t.Fatalf("expected exactly one pending decision, got %d", ex.registry.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("expected file untouched while pending decision awaits resolution")
	}
	if len(sink.events) != 1 || sink.events[0].Type != egress.ThreatActionRequired {
		t.Fatalf("expected one ThreatActionRequired event, got %+v", sink.events)
	}
}

func TestApplyAskUserLowScoreMonitors(t *testing.T) {
	ex, _, dir := newTestExecutor(t, config.ModeAskUser)
	path := writeVictimFile(t, dir, "benign-ish")

	sc := &engine.ScanContext{Path: path, SHA256: "low-hash"}
	outcome, err := ex.Apply(sc, engine.AggregatedResult{RiskScore: 10, Verdict: engine.Allow})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeMonitor {
		t.Fatalf("expected Monitor, got %s", outcome)
	}
}

func TestResolvePendingQuarantine(t *testing.T) {
	ex, _, dir := newTestExecutor(t, config.ModeAskUser)
	path := writeVictimFile(t, dir, "pending content")
	sc := &engine.ScanContext{Path: path, SHA256: "pend-hash"}
	ex.Apply(sc, engine.AggregatedResult{RiskScore: 50, Verdict: engine.NeedsReview})

	pending := ex.registry.List()
	if len(pending) != 1 {
		t.Fatalf("expected one pending decision, got %d", len(pending))
	}
	eventID := pending[0].EventID

	if err := ex.Resolve(eventID, ActionQuarantine, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file quarantined after resolve")
	}
	if ex.registry.Len() != 0 {
		t.Fatal("expected pending decision removed after resolve")
	}
}

func TestResolvePendingAllowWithExclusionsAddsAllowlistAndPersists(t *testing.T) {
	ex, _, dir := newTestExecutor(t, config.ModeAskUser)
	path := writeVictimFile(t, dir, "pending allow content")
	sc := &engine.ScanContext{Path: path, SHA256: "allow-hash"}
	ex.Apply(sc, engine.AggregatedResult{RiskScore: 50, Verdict: engine.NeedsReview})

	eventID := ex.registry.List()[0].EventID
	if err := ex.Resolve(eventID, ActionAllow, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !ex.cfg.IsAllowlisted("allow-hash") {
		t.Fatal("expected sha256 added to allowlist")
	}
	if _, err := os.Stat(ex.configPath); err != nil {
		t.Fatalf("expected config persisted to disk: %v", err)
	}
}

func TestResolveMissingEventReturnsNotFound(t *testing.T) {
	ex, _, _ := newTestExecutor(t, config.ModeAskUser)
	err := ex.Resolve("does-not-exist", ActionAllow, false)
	if err == nil {
		t.Fatal("expected error for missing event")
	}
	if !errkind.Is(err, errkind.NotFound) {
		t.Fatalf("expected NotFound error kind, got %v", err)
	}
}
