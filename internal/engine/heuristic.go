package engine

import (
	"context"
	"strings"
	"time"
)

// highRiskImports and mediumRiskImports are the injection/execution/
// persistence API sets consulted by the heuristic engine.
var highRiskImports = map[string]struct{}{
	"VirtualAllocEx": {}, "WriteProcessMemory": {}, "CreateRemoteThread": {},
	"NtCreateThreadEx": {}, "SetWindowsHookEx": {}, "QueueUserAPC": {},
	"RtlCreateUserThread": {}, "NtUnmapViewOfSection": {},
}

var mediumRiskImports = map[string]struct{}{
	"CreateProcess": {}, "ShellExecute": {}, "WinExec": {},
	"RegSetValueEx": {}, "RegCreateKeyEx": {}, "URLDownloadToFile": {},
	"InternetOpenUrl": {}, "CryptEncrypt": {},
}

var packerSectionNames = map[string]struct{}{
	"UPX0": {}, "UPX1": {}, "UPX2": {}, ".THEMIDA": {}, ".VMP": {},
	".ENIGMA": {}, ".ASPACK": {}, ".MPRESS": {}, ".PETITE": {},
}

var suspiciousPathPrefixes = []string{
	`\temp\`, `\appdata\local\temp\`, `\appdata\roaming\`,
	`\users\public\`, `\programdata\`, `\downloads\`,
}

var executableExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".scr": {}, ".com": {}, ".bat": {}, ".cmd": {},
}

// HeuristicEngine scores PE structural features. It is stateless and
// side-effect free.
type HeuristicEngine struct{}

func NewHeuristicEngine() *HeuristicEngine { return &HeuristicEngine{} }

func (HeuristicEngine) Name() string          { return "heuristic" }
func (HeuristicEngine) DefaultWeight() float64 { return 0.8 }
func (HeuristicEngine) Ready() bool            { return true }

func (HeuristicEngine) Scan(_ context.Context, sc *ScanContext) EngineResult {
	if sc.PE == nil || !sc.PE.Valid {
		return EngineResult{
			EngineName: "heuristic",
			Score:      0,
			Verdict:    VerdictUnknown,
			Confidence: 0,
			Reasons:    []string{"not a valid PE"},
		}
	}

	score := 0
	var reasons []string
	add := func(points int, reason string) {
		if points == 0 {
			return
		}
		score += points
		reasons = append(reasons, reason)
	}

	pe := sc.PE

	highCount, medCount := 0, 0
	hasValloc, hasWPM, hasCreateThread := false, false, false
	for _, sym := range pe.ImportedSymbols {
		if _, ok := highRiskImports[sym]; ok {
			highCount++
		}
		if _, ok := mediumRiskImports[sym]; ok {
			medCount++
		}
		switch sym {
		case "VirtualAllocEx":
			hasValloc = true
		case "WriteProcessMemory":
			hasWPM = true
		case "CreateRemoteThread", "NtCreateThreadEx":
			hasCreateThread = true
		}
	}
	add(min(highCount*8, 35), "high-risk imports")
	add(min(medCount*4, 20), "medium-risk imports")
	if hasValloc && hasWPM && hasCreateThread {
		add(20, "process injection pattern")
	}

	switch {
	case pe.Entropy > 7.5:
		add(25, "very high entropy")
	case pe.Entropy > 7.0:
		add(15, "high entropy")
	case pe.Entropy > 6.5:
		add(5, "elevated entropy")
	}

	distinctSections := map[string]struct{}{}
	packerHit := false
	for _, name := range pe.SectionNames {
		upper := strings.ToUpper(strings.TrimRight(name, "\x00"))
		distinctSections[upper] = struct{}{}
		if _, ok := packerSectionNames[upper]; ok {
			packerHit = true
		}
	}
	if packerHit {
		add(20, "packer section name")
	}

	switch n := len(pe.SectionNames); {
	case n < 2:
		add(10, "too few sections")
	case n > 10:
		add(8, "too many sections")
	}
	if len(distinctSections) > 2 {
		nonStandard := 0
		for name := range distinctSections {
			if !isStandardSection(name) {
				nonStandard++
			}
		}
		if nonStandard > 2 {
			add(5, "non-standard section names")
		}
	}

	if !pe.HasSignature {
		add(10, "unsigned")
	} else if !sc.SignatureValid {
		add(15, "invalid signature")
	} else if sc.SignerName == "" {
		add(5, "unknown publisher")
	}

	now := time.Now()
	ts := time.Unix(pe.TimestampUnix, 0)
	if ts.After(now) {
		add(10, "future compile timestamp")
	} else if now.Sub(ts) > 30*365*24*time.Hour {
		add(5, "very old compile timestamp")
	}

	lowerPath := strings.ToLower(sc.Path)
	for _, prefix := range suspiciousPathPrefixes {
		if strings.Contains(lowerPath, prefix) {
			add(10, "suspicious path")
			break
		}
	}
	if hasDoubleExecutableExtension(sc.Path) {
		add(15, "double extension")
	}

	if pe.Valid && sc.Size < 10*1024 {
		add(10, "unusually small PE")
	}

	switch {
	case sc.InStartupPath && !sc.SignatureValid:
		add(20, "startup path and unsigned")
	case sc.InStartupPath:
		add(8, "startup path")
	}
	switch {
	case sc.FromTempOrAppData && !sc.SignatureValid:
		add(15, "temp/appdata and unsigned")
	case sc.FromTempOrAppData:
		add(5, "temp/appdata location")
	}
	if !sc.SignatureValid && now.Sub(sc.CreationTime) < 2*time.Minute {
		add(12, "recently created and unsigned")
	}
	if pe.OverlayRatio > 2.0 {
		add(8, "large overlay")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	verdict := VerdictClean
	switch {
	case score >= 70:
		verdict = VerdictMalicious
	case score >= 35:
		verdict = VerdictSuspicious
	}

	confidence := 0.6
	if score >= 50 {
		confidence = 0.75
	}

	if len(reasons) == 0 {
		reasons = []string{"no heuristic findings"}
	}

	return EngineResult{
		EngineName: "heuristic",
		Score:      score,
		Verdict:    verdict,
		Confidence: confidence,
		Reasons:    reasons,
	}
}

func isStandardSection(name string) bool {
	switch name {
	case ".TEXT", ".DATA", ".RDATA", ".RSRC", ".RELOC", ".BSS", ".IDATA", ".EDATA", ".PDATA", ".TLS":
		return true
	}
	return false
}

func hasDoubleExecutableExtension(path string) bool {
	lower := strings.ToLower(path)
	parts := strings.Split(lower, ".")
	if len(parts) < 3 {
		return false
	}
	finalExt := "." + parts[len(parts)-1]
	_, exec := executableExtensions[finalExt]
	return exec
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
