package engine

import (
	"context"
	"fmt"

	"github.com/sentineld/sentineld/internal/ml"
)

var dangerousAPIHints = map[string]struct{}{
	"VirtualAllocEx": {}, "WriteProcessMemory": {}, "CreateRemoteThread": {},
	"NtCreateThreadEx": {}, "SetWindowsHookEx": {}, "CryptEncrypt": {},
}

var suspiciousDLLHints = map[string]struct{}{
	"ADVAPI32.dll": {}, "WININET.dll": {}, "URLMON.dll": {}, "WS2_32.dll": {},
}

// MLEngine wraps an ml.Classifier as a scan Engine.
type MLEngine struct {
	classifier ml.Classifier
}

func NewMLEngine(classifier ml.Classifier) *MLEngine {
	return &MLEngine{classifier: classifier}
}

func (MLEngine) Name() string          { return "ml" }
func (MLEngine) DefaultWeight() float64 { return 0.7 }
func (MLEngine) Ready() bool            { return true }

func (e *MLEngine) Scan(_ context.Context, sc *ScanContext) EngineResult {
	if sc.PE == nil || !sc.PE.Valid {
		return EngineResult{
			EngineName: "ml",
			Score:      0,
			Verdict:    VerdictUnknown,
			Confidence: 0,
			Reasons:    []string{"skipped: no valid PE info"},
		}
	}

	features, reasons := extractFeatures(sc)
	probability, rawScore, isMalware := e.classifier.Predict(features)

	score := int(probability*100 + 0.5)
	verdict := VerdictClean
	switch {
	case probability > 0.8:
		verdict = VerdictMalicious
	case isMalware:
		verdict = VerdictSuspicious
	}

	confidence := rawScore
	if confidence < 0 {
		confidence = -confidence
	}
	if confidence > 1 {
		confidence = 1
	}

	if len(reasons) == 0 {
		reasons = []string{fmt.Sprintf("model probability %.2f", probability)}
	}

	return EngineResult{
		EngineName: "ml",
		Score:      score,
		Verdict:    verdict,
		Confidence: confidence,
		Reasons:    reasons,
		Metadata: map[string]interface{}{
			"probability": probability,
			"raw_score":   rawScore,
		},
	}
}

func extractFeatures(sc *ScanContext) (ml.Features, []string) {
	var reasons []string
	dangerous, suspiciousDLLs := 0, 0
	for _, sym := range sc.PE.ImportedSymbols {
		if _, ok := dangerousAPIHints[sym]; ok {
			dangerous++
		}
	}
	for _, dll := range sc.PE.ImportedDLLs {
		if _, ok := suspiciousDLLHints[dll]; ok {
			suspiciousDLLs++
		}
	}
	if sc.PE.Entropy > 7.0 {
		reasons = append(reasons, "high entropy")
	}
	if dangerous > 2 {
		reasons = append(reasons, "many dangerous imports")
	}
	if suspiciousDLLs > 1 {
		reasons = append(reasons, "many suspicious DLLs")
	}
	if !sc.SignatureValid {
		reasons = append(reasons, "unsigned")
	}

	return ml.Features{
		Entropy:              sc.PE.Entropy,
		DangerousImportCount:  dangerous,
		SuspiciousDLLCount:    suspiciousDLLs,
		Unsigned:              !sc.SignatureValid,
		SectionCount:          len(sc.PE.SectionNames),
		HasOverlay:            sc.PE.OverlayRatio > 0,
	}, reasons
}
