package engine

import (
	"context"
	"time"

	"github.com/sentineld/sentineld/internal/extscan"
	"github.com/sentineld/sentineld/internal/reputation"
)

const defaultExternalTimeout = 60 * time.Second

// SubprocessEngine wraps a command-line external scanner (e.g. a local
// Defender CLI) as a second-opinion engine.
type SubprocessEngine struct {
	engineName string
	weight     float64
	scanner    *extscan.Subprocess
	ready      func() bool
}

func NewSubprocessEngine(name string, weight float64, scanner *extscan.Subprocess, ready func() bool) *SubprocessEngine {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &SubprocessEngine{engineName: name, weight: weight, scanner: scanner, ready: ready}
}

func (e *SubprocessEngine) Name() string          { return e.engineName }
func (e *SubprocessEngine) DefaultWeight() float64 { return e.weight }
func (e *SubprocessEngine) Ready() bool            { return e.ready() }

func (e *SubprocessEngine) Scan(ctx context.Context, sc *ScanContext) EngineResult {
	outcome, err := e.scanner.Scan(ctx, sc.Path)
	if ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled {
		return ErrorResult(e.engineName, "cancelled")
	}
	if err != nil {
		return ErrorResult(e.engineName, "external scan failed: "+err.Error())
	}
	if outcome.ThreatFound {
		return EngineResult{
			EngineName: e.engineName,
			Score:      95,
			Verdict:    VerdictMalicious,
			Confidence: 0.9,
			Reasons:    []string{e.engineName + ": " + outcome.ThreatName},
		}
	}
	return EngineResult{
		EngineName: e.engineName,
		Score:      0,
		Verdict:    VerdictClean,
		Confidence: 0.6,
		Reasons:    []string{e.engineName + ": no threat found"},
	}
}

// RemoteReputationEngine wraps the remote multi-engine lookup client as a
// second-opinion engine (the "VirusTotal" role in ).
type RemoteReputationEngine struct {
	engineName string
	weight     float64
	client     *reputation.RemoteClient
	timeout    time.Duration
	ready      func() bool
}

func NewRemoteReputationEngine(name string, weight float64, client *reputation.RemoteClient, ready func() bool) *RemoteReputationEngine {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &RemoteReputationEngine{engineName: name, weight: weight, client: client, timeout: defaultExternalTimeout, ready: ready}
}

func (e *RemoteReputationEngine) Name() string          { return e.engineName }
func (e *RemoteReputationEngine) DefaultWeight() float64 { return e.weight }
func (e *RemoteReputationEngine) Ready() bool            { return e.ready() }

func (e *RemoteReputationEngine) Scan(ctx context.Context, sc *ScanContext) EngineResult {
	if sc.SHA256 == "" {
		return ErrorResult(e.engineName, "no content hash available")
	}

	done := make(chan struct{})
	var (
		result reputation.LookupResult
		lookupErr error
	)
	go func() {
		result, lookupErr = e.client.Lookup(sc.SHA256)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ErrorResult(e.engineName, "cancelled")
	case <-time.After(e.timeout):
		return EngineResult{EngineName: e.engineName, Error: "timeout", Verdict: VerdictUnknown, Reasons: []string{"timed out after " + e.timeout.String()}}
	case <-done:
	}

	if lookupErr != nil {
		return ErrorResult(e.engineName, "transport error: "+lookupErr.Error())
	}
	if !result.Found || result.EnginesTotal == 0 {
		return EngineResult{
			EngineName: e.engineName,
			Score:      0,
			Verdict:    VerdictClean,
			Confidence: 0.4,
			Reasons:    []string{e.engineName + ": no remote match"},
		}
	}

	ratio := float64(result.EnginesMalicious) / float64(result.EnginesTotal)
	score := int(ratio*100 + 0.5)
	verdict := VerdictClean
	switch {
	case result.EnginesMalicious >= 5:
		verdict = VerdictMalicious
	case result.EnginesMalicious+result.EnginesSuspicious >= 1:
		verdict = VerdictSuspicious
	}

	return EngineResult{
		EngineName: e.engineName,
		Score:      score,
		Verdict:    verdict,
		Confidence: 0.8,
		Reasons:    []string{e.engineName + ": flagged by remote engines"},
		Metadata: map[string]interface{}{
			"engines_total":     result.EnginesTotal,
			"engines_malicious": result.EnginesMalicious,
		},
	}
}
