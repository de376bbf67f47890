// Package aggregate implements the aggregator: it runs ready engines
// concurrently, computes a weighted risk score, applies the
// definitive-match override, and selects a policy verdict.
// The concurrent fan-out/fan-in here follows the same
// goroutine-per-worker + sync.WaitGroup shape used by this codebase's
// notification router, generalized from "broadcast to N channels" to
// "collect N typed results."
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentineld/sentineld/internal/cache"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/logging"
)

var log = logging.New("AGGREGATOR")

// heavyEngineNames are excluded in high-pressure mode.
var heavyEngineNames = map[string]struct{}{
	"ml": {}, "reputation": {}, "defender": {}, "virustotal": {},
}

// SecondOpinionEngine is an engine plus the predicate deciding whether it
// should join the second-opinion round.
type SecondOpinionEngine struct {
	Engine  engine.Engine
	Trigger func(primary *engine.AggregatedResult, sc *engine.ScanContext) bool
}

// Aggregator runs the scan pipeline's engine fan-out and scoring.
type Aggregator struct {
	cfg     *config.Config
	cache   *cache.Cache
	primary []engine.Engine
	second  []SecondOpinionEngine

	mu           sync.RWMutex
	highPressure bool
}

// New creates an Aggregator. primary engines always run (subject to the
// high-pressure heavy-set exclusion); second-opinion engines are always
// registered and gated purely by their Trigger predicate and config flags,
// never by maintaining separate aggregator instances.
func New(cfg *config.Config, c *cache.Cache, primary []engine.Engine, second []SecondOpinionEngine) *Aggregator {
	return &Aggregator{cfg: cfg, cache: c, primary: primary, second: second}
}

// SetHighPressure toggles the degraded-mode engine gating (set by the
// watchdog).
func (a *Aggregator) SetHighPressure(v bool) {
	a.mu.Lock()
	a.highPressure = v
	a.mu.Unlock()
}

func (a *Aggregator) isHighPressure() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.highPressure
}

// Scan runs the full aggregation pipeline for one file.
func (a *Aggregator) Scan(ctx context.Context, sc *engine.ScanContext) engine.AggregatedResult {
	correlationID := uuid.New().String()
	started := time.Now()

	if sc.SHA256 != "" {
		key := cache.Key(sc.SHA256, sc.Size, sc.LastWriteTime)
		if cached, ok := a.cache.TryGet(key); ok {
			return cached
		}
	}

	highPressure := a.isHighPressure()
	results := a.runEngines(ctx, a.readyEngines(a.primary, highPressure), sc)

	riskScore, verdict := Score(results, a.cfg)

	if !highPressure {
		var extra []engine.Engine
		for _, so := range a.second {
			if !so.Trigger(nil, sc) {
				continue
			}
			combined := combineForTrigger(results, riskScore, verdict)
			if so.Trigger(&combined, sc) {
				extra = append(extra, so.Engine)
			}
		}
		if len(extra) > 0 {
			extraResults := a.runEngines(ctx, extra, sc)
			results = append(results, extraResults...)
			riskScore, verdict = Score(results, a.cfg)
		}
	}

	reasons := collectReasons(results)

	out := engine.AggregatedResult{
		FilePath:      sc.Path,
		RiskScore:     riskScore,
		Verdict:       verdict,
		Reasons:       reasons,
		EngineResults: results,
		Duration:      time.Since(started),
		ScannedAt:     started,
		CorrelationID: correlationID,
	}

	if sc.SHA256 != "" {
		key := cache.Key(sc.SHA256, sc.Size, sc.LastWriteTime)
		a.cache.Store(key, out)
	}

	return out
}

func combineForTrigger(results []engine.EngineResult, score int, verdict engine.AggregateVerdict) engine.AggregatedResult {
	return engine.AggregatedResult{RiskScore: score, Verdict: verdict, EngineResults: results}
}

func (a *Aggregator) readyEngines(all []engine.Engine, highPressure bool) []engine.Engine {
	var out []engine.Engine
	for _, e := range all {
		if !e.Ready() {
			continue
		}
		if highPressure {
			if _, heavy := heavyEngineNames[e.Name()]; heavy {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// runEngines invokes engines concurrently and converts panics/errors into
// Error EngineResults, never propagating them to the caller.
func (a *Aggregator) runEngines(ctx context.Context, engines []engine.Engine, sc *engine.ScanContext) []engine.EngineResult {
	results := make([]engine.EngineResult, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e engine.Engine) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("engine %s panicked: %v", e.Name(), r)
					results[i] = engine.ErrorResult(e.Name(), "engine panic")
				}
			}()
			results[i] = e.Scan(ctx, sc)
		}(i, e)
	}
	wg.Wait()
	return results
}

func collectReasons(results []engine.EngineResult) []string {
	var all []string
	for _, r := range results {
		if r.IsError() {
			continue
		}
		all = append(all, r.Reasons...)
	}
	return engine.DedupReasons(all)
}

// Score implements : weighted score aggregation with
// definitive-match override, then verdict selection. Exported so the
// real-time pipeline's quick-gate can reuse the identical formula.
func Score(results []engine.EngineResult, cfg *config.Config) (int, engine.AggregateVerdict) {
	for _, r := range results {
		if r.IsError() {
			continue
		}
		if r.Score >= 95 && r.Confidence >= 0.95 {
			return r.Score, verdictFor(results, r.Score, cfg)
		}
	}

	var weightedSum, weightSum float64
	for _, r := range results {
		if r.IsError() {
			continue
		}
		w := weightFor(r.EngineName, cfg) * r.Confidence
		weightedSum += w * float64(r.Score)
		weightSum += w
	}

	score := 0
	if weightSum > 0 {
		score = clamp(int(weightedSum/weightSum+0.5), 0, 100)
	}
	return score, verdictFor(results, score, cfg)
}

func verdictFor(results []engine.EngineResult, score int, cfg *config.Config) engine.AggregateVerdict {
	maliciousCount := 0
	hasSuspicious := false
	for _, r := range results {
		if r.IsError() {
			continue
		}
		if r.Verdict == engine.VerdictMalicious {
			maliciousCount++
			if r.Confidence >= 0.9 {
				return engine.Block
			}
		}
		if r.Verdict == engine.VerdictSuspicious {
			hasSuspicious = true
		}
	}
	if score >= cfg.BlockThreshold {
		return engine.Block
	}
	if maliciousCount >= 2 || score >= cfg.QuarantineThreshold {
		return engine.Quarantine
	}
	if hasSuspicious || score >= cfg.ReviewThreshold {
		return engine.NeedsReview
	}
	return engine.Allow
}

func weightFor(engineName string, cfg *config.Config) float64 {
	w := cfg.EngineWeights
	switch engineName {
	case "signature":
		return w.Signature
	case "heuristic":
		return w.Heuristic
	case "ml":
		return w.ML
	case "reputation":
		return w.Reputation
	case "script":
		return w.Script
	case "defender":
		return w.Defender
	case "virustotal":
		return w.VirusTotal
	default:
		return 0.5
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DefenderTrigger implements  Defender trigger:
// suspicion zone OR ML/heuristic disagreement OR temp/appdata location.
func DefenderTrigger(cfg *config.Config) func(*engine.AggregatedResult, *engine.ScanContext) bool {
	return func(primary *engine.AggregatedResult, sc *engine.ScanContext) bool {
		if primary == nil {
			return cfg.EnableDefenderSecondOpinion
		}
		if !cfg.EnableDefenderSecondOpinion {
			return false
		}
		if inSuspicionZone(primary.RiskScore, cfg) {
			return true
		}
		if cfg.DefenderWhenDisagree && enginesDisagree(primary.EngineResults) {
			return true
		}
		if cfg.DefenderWhenTempOrAppdata && sc.FromTempOrAppData {
			return true
		}
		return false
	}
}

// VirusTotalTrigger implements  VirusTotal trigger.
func VirusTotalTrigger(cfg *config.Config) func(*engine.AggregatedResult, *engine.ScanContext) bool {
	return func(primary *engine.AggregatedResult, sc *engine.ScanContext) bool {
		if primary == nil {
			return cfg.EnableVirusTotalSecondOpinion
		}
		if !cfg.EnableVirusTotalSecondOpinion {
			return false
		}
		if inSuspicionZone(primary.RiskScore, cfg) {
			return true
		}
		if cfg.VirusTotalWhenUnsignedSuspicious && !sc.SignatureValid && sc.FromTempOrAppData {
			return true
		}
		return false
	}
}

func inSuspicionZone(score int, cfg *config.Config) bool {
	return score >= cfg.SuspicionMin && score <= cfg.SuspicionMax
}

func enginesDisagree(results []engine.EngineResult) bool {
	var mlSuspicious, heuristicSuspicious *bool
	for _, r := range results {
		isSusp := r.Verdict == engine.VerdictSuspicious || r.Verdict == engine.VerdictMalicious
		switch r.EngineName {
		case "ml":
			mlSuspicious = &isSusp
		case "heuristic":
			heuristicSuspicious = &isSusp
		}
	}
	if mlSuspicious == nil || heuristicSuspicious == nil {
		return false
	}
	return *mlSuspicious != *heuristicSuspicious
}
