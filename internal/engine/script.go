package engine

import (
	"context"
	"os"

	"github.com/sentineld/sentineld/internal/scriptscan"
)

var scriptExtensions = map[string]struct{}{
	".ps1": {}, ".vbs": {}, ".js": {}, ".jse": {}, ".wsf": {}, ".bat": {}, ".cmd": {}, ".hta": {},
}

const maxScriptSize = 5 * 1024 * 1024 // 5 MiB, 

// ScriptEngine is active only for script extensions; it defers to an
// external script-scan facility for the actual detection.
type ScriptEngine struct {
	facility scriptscan.Facility
}

func NewScriptEngine(facility scriptscan.Facility) *ScriptEngine {
	return &ScriptEngine{facility: facility}
}

func (ScriptEngine) Name() string          { return "script" }
func (ScriptEngine) DefaultWeight() float64 { return 0.6 }

func (ScriptEngine) Ready() bool { return true }

// IsScriptExtension reports whether ext (lowercase, with leading dot) is in
// the fixed script extension set this engine handles.
func IsScriptExtension(ext string) bool {
	_, ok := scriptExtensions[ext]
	return ok
}

func (e *ScriptEngine) Scan(_ context.Context, sc *ScanContext) EngineResult {
	if !IsScriptExtension(sc.Extension) {
		return EngineResult{
			EngineName: "script",
			Score:      0,
			Verdict:    VerdictClean,
			Confidence: 0.5,
			Reasons:    []string{"not a script extension"},
		}
	}
	if sc.Size > maxScriptSize {
		return EngineResult{
			EngineName: "script",
			Score:      0,
			Verdict:    VerdictClean,
			Confidence: 0.5,
			Reasons:    []string{"script exceeds size limit, skipped"},
		}
	}

	data, err := os.ReadFile(sc.Path)
	if err != nil {
		return ErrorResult("script", "failed to read script: "+err.Error())
	}

	switch e.facility.ScanBuffer(data, sc.Path) {
	case scriptscan.Detected:
		return EngineResult{
			EngineName: "script",
			Score:      90,
			Verdict:    VerdictMalicious,
			Confidence: 0.85,
			Reasons:    []string{"script-scan: malicious constructs detected"},
		}
	case scriptscan.BlockedByPolicy:
		return EngineResult{
			EngineName: "script",
			Score:      60,
			Verdict:    VerdictSuspicious,
			Confidence: 0.7,
			Reasons:    []string{"script-scan: blocked by policy"},
		}
	default:
		return EngineResult{
			EngineName: "script",
			Score:      0,
			Verdict:    VerdictClean,
			Confidence: 0.7,
			Reasons:    []string{"script-scan: clean"},
		}
	}
}
