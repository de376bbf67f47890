// Package scriptscan implements the external script-scan facility the
// script-surface engine consults.
package scriptscan

import (
	"bytes"
	"strings"
)

// Verdict is the three-way outcome of a script scan.
type Verdict string

const (
	NotDetected    Verdict = "NotDetected"
	BlockedByPolicy Verdict = "BlockedByPolicy"
	Detected        Verdict = "Detected"
)

// Facility scans a buffer of script source/bytecode for malicious
// constructs.
type Facility interface {
	ScanBuffer(data []byte, name string) Verdict
}

// HeuristicFacility flags known obfuscation/execution-surface constructs
// commonly seen in malicious PowerShell/VBScript/JS droppers.
type HeuristicFacility struct {
	detectPatterns []string
	policyPatterns []string
}

func NewHeuristicFacility() *HeuristicFacility {
	return &HeuristicFacility{
		detectPatterns: []string{
			"frombase64string",
			"downloadstring",
			"downloadfile",
			"invoke-expression",
			"iex(",
			"-encodedcommand",
			"new-object net.webclient",
			"wscript.shell",
			"adodb.stream",
			"bitstransfer",
		},
		policyPatterns: []string{
			"set-executionpolicy",
			"disableantispyware",
			"amsiutils",
			"disablerealtimemonitoring",
		},
	}
}

func (f *HeuristicFacility) ScanBuffer(data []byte, name string) Verdict {
	lower := strings.ToLower(string(bytes.ToLower(data)))
	detectedCount := 0
	for _, p := range f.detectPatterns {
		if strings.Contains(lower, p) {
			detectedCount++
		}
	}
	if detectedCount >= 2 {
		return Detected
	}
	for _, p := range f.policyPatterns {
		if strings.Contains(lower, p) {
			return BlockedByPolicy
		}
	}
	if detectedCount == 1 {
		return BlockedByPolicy
	}
	return NotDetected
}
