package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/prevalence"
)

var trustedPublishers = map[string]struct{}{
	"Microsoft Corporation": {}, "Microsoft Windows": {}, "Google LLC": {},
	"Mozilla Corporation": {}, "Apple Inc.": {},
}

var trustedPathPrefixes = []string{
	`c:\windows\system32\`, `c:\windows\syswow64\`, `c:\program files\`,
	`c:\program files (x86)\`,
}

var reputationSuspiciousPaths = []string{
	`\temp\`, `\appdata\local\temp\`, `\appdata\roaming\`,
	`\users\public\`, `\programdata\`, `\downloads\`,
}

var highRiskExtensions = map[string]struct{}{
	".vbs": {}, ".js": {}, ".ps1": {}, ".msi": {}, ".scr": {}, ".hta": {}, ".com": {},
}

type reputationCacheEntry struct {
	result  EngineResult
	cachedAt time.Time
}

// ReputationEngine combines publisher trust, path heuristics, and local
// prevalence into a signed score. Results are cached for
// 30 minutes by SHA-256; a Scan call not served from that cache bumps
// prevalence exactly once, via prevalence.Store's per-key striped lock.
type ReputationEngine struct {
	prevalence *prevalence.Store

	mu    sync.Mutex
	cache map[string]reputationCacheEntry
}

func NewReputationEngine(prev *prevalence.Store) *ReputationEngine {
	return &ReputationEngine{
		prevalence: prev,
		cache:      make(map[string]reputationCacheEntry),
	}
}

func (ReputationEngine) Name() string          { return "reputation" }
func (ReputationEngine) DefaultWeight() float64 { return 0.5 }
func (ReputationEngine) Ready() bool            { return true }

func (e *ReputationEngine) Scan(_ context.Context, sc *ScanContext) EngineResult {
	if sc.SHA256 != "" {
		if cached, ok := e.cacheGet(sc.SHA256); ok {
			return cached
		}
	}

	score := 0
	var reasons []string
	add := func(points int, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	lowerPath := strings.ToLower(sc.Path)

	trustedByPath := false
	for _, prefix := range trustedPathPrefixes {
		if strings.HasPrefix(lowerPath, prefix) {
			add(-10, "trusted system path")
			trustedByPath = true
			break
		}
	}

	if sc.SignatureValid {
		if _, trusted := trustedPublishers[sc.SignerName]; trusted {
			add(-20, "trusted publisher")
		} else {
			add(-10, "signed, unknown publisher")
		}
	} else if sc.PE != nil && sc.PE.Valid {
		add(15, "unsigned PE")
	}

	if !trustedByPath {
		for _, substr := range reputationSuspiciousPaths {
			if strings.Contains(lowerPath, substr) {
				add(15, "suspicious path")
				break
			}
		}
	}

	if _, risky := highRiskExtensions[sc.Extension]; risky {
		add(15, "high-risk extension")
	}

	age := time.Since(sc.CreationTime)
	switch {
	case age < 5*time.Minute:
		add(10, "newly created")
	case age < time.Hour:
		add(5, "recently created")
	}

	if sc.SHA256 != "" && e.prevalence != nil {
		entry := e.prevalence.Bump(sc.SHA256, time.Now())
		if entry.SeenCount == 1 {
			add(10, "first-ever occurrence")
		} else if time.Since(entry.FirstSeenUTC) > 7*24*time.Hour && entry.SeenCount > 5 {
			add(-5, "common, long-lived")
		}
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	verdict := VerdictClean
	if score >= 40 {
		verdict = VerdictSuspicious
	}
	if len(reasons) == 0 {
		reasons = []string{"no reputation signal"}
	}

	result := EngineResult{
		EngineName: "reputation",
		Score:      score,
		Verdict:    verdict,
		Confidence: 0.5,
		Reasons:    reasons,
	}

	if sc.SHA256 != "" {
		e.cachePut(sc.SHA256, result)
	}
	return result
}

func (e *ReputationEngine) cacheGet(sha256 string) (EngineResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[sha256]
	if !ok {
		return EngineResult{}, false
	}
	if time.Since(entry.cachedAt) > 30*time.Minute {
		delete(e.cache, sha256)
		return EngineResult{}, false
	}
	return entry.result, true
}

func (e *ReputationEngine) cachePut(sha256 string, result EngineResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[sha256] = reputationCacheEntry{result: result, cachedAt: time.Now()}
}
