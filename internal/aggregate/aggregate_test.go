package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/sentineld/sentineld/internal/cache"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/engine"
)

type fakeEngine struct {
	name    string
	weight  float64
	ready   bool
	result  engine.EngineResult
}

func (f fakeEngine) Name() string          { return f.name }
func (f fakeEngine) DefaultWeight() float64 { return f.weight }
func (f fakeEngine) Ready() bool            { return f.ready }
func (f fakeEngine) Scan(_ context.Context, _ *engine.ScanContext) engine.EngineResult {
	return f.result
}

func newAggregator(cfg *config.Config, engines ...engine.Engine) *Aggregator {
	c := cache.New(cfg.CacheTTL(), cfg.ScanCacheMaxEntries)
	return New(cfg, c, engines, nil)
}

func TestScoreDefinitiveMatchOverride(t *testing.T) {
	cfg := config.Default()
	results := []engine.EngineResult{
		{EngineName: "signature", Score: 100, Confidence: 1.0, Verdict: engine.VerdictMalicious},
		{EngineName: "reputation", Score: 0, Confidence: 0.5, Verdict: engine.VerdictClean},
	}
	score, verdict := Score(results, cfg)
	if score != 100 {
		t.Fatalf("expected definitive override score 100, got %d", score)
	}
	if verdict != engine.Block {
		t.Fatalf("expected Block, got %s", verdict)
	}
}

func TestScoreWeightedAverage(t *testing.T) {
	cfg := config.Default()
	results := []engine.EngineResult{
		{EngineName: "heuristic", Score: 80, Confidence: 0.75, Verdict: engine.VerdictSuspicious},
		{EngineName: "reputation", Score: 20, Confidence: 0.5, Verdict: engine.VerdictClean},
	}
	score, _ := Score(results, cfg)
	// weighted = (0.8*0.75*80 + 0.5*0.5*20) / (0.8*0.75 + 0.5*0.5) = (48+5)/(0.85) ≈ 62
	if score < 55 || score > 68 {
		t.Fatalf("unexpected weighted score: %d", score)
	}
}

func TestScoreExcludesErrorResults(t *testing.T) {
	cfg := config.Default()
	results := []engine.EngineResult{
		engine.ErrorResult("ml", "boom"),
		{EngineName: "signature", Score: 0, Confidence: 0.7, Verdict: engine.VerdictClean},
	}
	score, verdict := Score(results, cfg)
	if score != 0 || verdict != engine.Allow {
		t.Fatalf("expected clean allow ignoring error result, got %d %s", score, verdict)
	}
}

func TestScoreZeroDenominatorYieldsZero(t *testing.T) {
	cfg := config.Default()
	results := []engine.EngineResult{engine.ErrorResult("ml", "boom")}
	score, _ := Score(results, cfg)
	if score != 0 {
		t.Fatalf("expected 0 for all-error input, got %d", score)
	}
}

func TestAggregatorScanCacheHit(t *testing.T) {
	cfg := config.Default()
	sig := fakeEngine{name: "signature", weight: 1.0, ready: true, result: engine.EngineResult{
		EngineName: "signature", Score: 0, Confidence: 0.7, Verdict: engine.VerdictClean,
	}}
	a := newAggregator(cfg, sig)

	sc := &engine.ScanContext{Path: "f.exe", SHA256: "abc", Size: 10, LastWriteTime: time.Unix(1, 0)}
	first := a.Scan(context.Background(), sc)
	second := a.Scan(context.Background(), sc)

	if first.CorrelationID != second.CorrelationID {
		t.Fatalf("expected cache hit to return the original scan's correlation id, got %s vs %s", first.CorrelationID, second.CorrelationID)
	}
	if second.RiskScore != first.RiskScore {
		t.Fatalf("expected identical score from cache hit: %d vs %d", first.RiskScore, second.RiskScore)
	}
}

func TestAggregatorBlockOnHighConfidenceMalicious(t *testing.T) {
	cfg := config.Default()
	sig := fakeEngine{name: "signature", weight: 1.0, ready: true, result: engine.EngineResult{
		EngineName: "signature", Score: 100, Confidence: 1.0, Verdict: engine.VerdictMalicious,
		Reasons: []string{"signature match: EICAR-Test-File"},
	}}
	a := newAggregator(cfg, sig)

	sc := &engine.ScanContext{Path: "eicar.com", SHA256: "eicar-hash"}
	result := a.Scan(context.Background(), sc)
	if result.Verdict != engine.Block || result.RiskScore != 100 {
		t.Fatalf("expected Block/100, got %+v", result)
	}
}

func TestAggregatorHighPressureExcludesHeavyEngines(t *testing.T) {
	cfg := config.Default()
	heavyCalled := false
	ml := fakeEngine{name: "ml", weight: 0.7, ready: true, result: engine.EngineResult{EngineName: "ml"}}
	_ = heavyCalled
	sig := fakeEngine{name: "signature", weight: 1.0, ready: true, result: engine.EngineResult{
		EngineName: "signature", Score: 0, Confidence: 0.7, Verdict: engine.VerdictClean,
	}}
	a := newAggregator(cfg, sig, ml)
	a.SetHighPressure(true)

	sc := &engine.ScanContext{Path: "f.exe"}
	result := a.Scan(context.Background(), sc)
	for _, r := range result.EngineResults {
		if r.EngineName == "ml" {
			t.Fatal("ml engine should have been excluded under high pressure")
		}
	}
}

func TestReasonsAreOrderPreservingDeduplicated(t *testing.T) {
	results := []engine.EngineResult{
		{EngineName: "a", Reasons: []string{"x", "y"}},
		{EngineName: "b", Reasons: []string{"y", "z"}},
	}
	got := collectReasons(results)
	want := []string{"x", "y", "z"}
	if len(got) != len(want) {
		t.Fatalf("unexpected reasons: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: %v", got)
		}
	}
}
