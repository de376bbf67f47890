package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sentineld/sentineld/internal/aggregate"
	"github.com/sentineld/sentineld/internal/cache"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/quarantine"
)

type fakeEngine struct {
	name   string
	weight float64
	result engine.EngineResult
}

func (f fakeEngine) Name() string                                            { return f.name }
func (f fakeEngine) DefaultWeight() float64                                  { return f.weight }
func (f fakeEngine) Ready() bool                                             { return true }
func (f fakeEngine) Scan(_ context.Context, _ *engine.ScanContext) engine.EngineResult { return f.result }

type capturingSink struct {
	events []egress.Event
}

func (s *capturingSink) Publish(ev egress.Event) { s.events = append(s.events, ev) }

func newTestMaster() quarantine.MasterKeyProvider {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return quarantine.StaticMasterKey{Key: key}
}

// testHarness bundles a Pipeline with everything needed to drive
// processEvent directly, bypassing the filesystem watcher so tests stay
// deterministic.
type testHarness struct {
	pipeline *Pipeline
	sink     *capturingSink
	store    *quarantine.Store
	rootDir  string
}

func newTestHarness(t *testing.T, quickGateResult, primaryResult engine.EngineResult) *testHarness {
	t.Helper()
	rootDir := t.TempDir()

	cfg := config.Default()
	cfg.QuarantinePath = filepath.Join(rootDir, "quarantine")
	cfg.QuickGateThreshold = 50

	c := cache.New(cfg.CacheTTL(), cfg.ScanCacheMaxEntries)
	primary := []engine.Engine{fakeEngine{name: "primary", weight: 1.0, result: primaryResult}}
	aggregator := aggregate.New(cfg, c, primary, nil)

	store, err := quarantine.New(
		filepath.Join(cfg.QuarantinePath, "files"),
		filepath.Join(cfg.QuarantinePath, "journal.db"),
		newTestMaster(),
		quarantine.DefaultRetryPolicy(),
	)
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sink := &capturingSink{}
	broadcaster := egress.NewBroadcaster(sink)
	exec := executor.New(cfg, filepath.Join(rootDir, "config.yaml"), store, broadcaster)

	quickGate := []engine.Engine{fakeEngine{name: "quickgate", weight: 1.0, result: quickGateResult}}

	p := New(cfg, []string{rootDir}, aggregator, quickGate, store, exec, broadcaster, nil, aggregator)

	return &testHarness{pipeline: p, sink: sink, store: store, rootDir: rootDir}
}

func writeVictim(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestProcessEventCleanFileTakesNoAction(t *testing.T) {
	h := newTestHarness(t,
		engine.EngineResult{EngineName: "quickgate", Score: 0, Confidence: 1.0, Verdict: engine.VerdictClean},
		engine.EngineResult{EngineName: "primary", Score: 0, Confidence: 1.0, Verdict: engine.VerdictClean},
	)
	p := writeVictim(t, h.rootDir, "clean.txt", "hello")

	h.pipeline.ctx = context.Background()
	h.pipeline.processEvent(FileEvent{Path: p})

	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected clean file to remain in place, stat error: %v", err)
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("expected no egress events for a clean file, got %d", len(h.sink.events))
	}
}

func TestProcessEventQuickGateHitQuarantinesOriginal(t *testing.T) {
	h := newTestHarness(t,
		engine.EngineResult{EngineName: "quickgate", Score: 90, Confidence: 1.0, Verdict: engine.VerdictMalicious},
		engine.EngineResult{EngineName: "primary", Score: 90, Confidence: 1.0, Verdict: engine.VerdictMalicious},
	)
	p := writeVictim(t, h.rootDir, "evil.exe", "malicious content")

	h.pipeline.ctx = context.Background()
	h.pipeline.processEvent(FileEvent{Path: p})

	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("expected original file to be moved out, stat err=%v", err)
	}

	entries, err := h.store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one quarantine entry, got %d", len(entries))
	}

	foundThreatDetected := false
	for _, ev := range h.sink.events {
		if ev.Type == egress.ThreatDetected {
			foundThreatDetected = true
			payload, ok := ev.Payload.(egress.ThreatDetectedPayload)
			if !ok {
				t.Fatalf("expected ThreatDetectedPayload, got %T", ev.Payload)
			}
			if payload.Path != p {
				t.Fatalf("expected ThreatDetected to reference original path %s, got %s", p, payload.Path)
			}
			if !payload.AutoQuarantined {
				t.Fatalf("expected AutoQuarantined=true")
			}
		}
	}
	if !foundThreatDetected {
		t.Fatalf("expected a ThreatDetected egress event")
	}
}

func TestProcessEventSkipsPathAlreadyActive(t *testing.T) {
	h := newTestHarness(t,
		engine.EngineResult{EngineName: "quickgate", Score: 90, Confidence: 1.0, Verdict: engine.VerdictMalicious},
		engine.EngineResult{EngineName: "primary", Score: 90, Confidence: 1.0, Verdict: engine.VerdictMalicious},
	)
	p := writeVictim(t, h.rootDir, "busy.exe", "content")

	if !h.pipeline.active.TryAcquire(p) {
		t.Fatalf("expected to acquire the active set for setup")
	}
	defer h.pipeline.active.Release(p)

	h.pipeline.ctx = context.Background()
	h.pipeline.processEvent(FileEvent{Path: p})

	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected file untouched while its path is already active, stat error: %v", err)
	}
	if len(h.sink.events) != 0 {
		t.Fatalf("expected no egress events when the path is skipped, got %d", len(h.sink.events))
	}
}

func TestProcessEventDropsNonExistentFile(t *testing.T) {
	h := newTestHarness(t,
		engine.EngineResult{EngineName: "quickgate", Score: 0, Confidence: 1.0, Verdict: engine.VerdictClean},
		engine.EngineResult{EngineName: "primary", Score: 0, Confidence: 1.0, Verdict: engine.VerdictClean},
	)

	h.pipeline.ctx = context.Background()
	h.pipeline.processEvent(FileEvent{Path: filepath.Join(h.rootDir, "does-not-exist.txt")})

	if len(h.sink.events) != 0 {
		t.Fatalf("expected no egress events for a vanished file")
	}
}
