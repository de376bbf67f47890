package fsid

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/pe"
	"github.com/sentineld/sentineld/internal/prevalence"
)

// suspiciousPathSubstrings is the set of path fragments flagged as
// suspicious locations, matched case-insensitively against the full path.
var suspiciousPathSubstrings = []string{
	`\Temp\`,
	`\AppData\Local\Temp\`,
	`\AppData\Roaming\`,
	`\Users\Public\`,
	`\ProgramData\`,
	`\Downloads\`,
}

// startupPathSubstrings covers the common user and machine autorun
// locations; a path containing any of these is treated as a startup
// location for the heuristic engine's startup-path scoring rule.
var startupPathSubstrings = []string{
	`\Microsoft\Windows\Start Menu\Programs\Startup\`,
	`\AppData\Roaming\Microsoft\Windows\Start Menu\Programs\Startup\`,
	`\ProgramData\Microsoft\Windows\Start Menu\Programs\StartUp\`,
}

// BuildContext reads path, hashes it, parses it as a PE image if
// applicable, and assembles the ScanContext every engine consults. Hash
// database lookups are the signature engine's own job (it reads
// sc.SHA256/sc.MD5 once this returns); BuildContext only measures.
// prevalenceStore may be nil, in which case the prevalence fields are
// left zero.
func BuildContext(path string, prevalenceStore *prevalence.Store) (*engine.ScanContext, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("build context for %s: is a directory", path)
	}

	sha256Hex, md5Hex, err := Hash(path)
	if err != nil {
		return nil, err
	}

	sc := &engine.ScanContext{
		Path:          path,
		Size:          info.Size(),
		LastWriteTime: info.ModTime(),
		CreationTime:  creationTime(info),
		Extension:     strings.ToLower(filepath.Ext(path)),
		SHA256:        sha256Hex,
		MD5:           md5Hex,
	}

	if peInfo, raw, err := parsePE(path); err == nil {
		sc.PE = peInfo
		// No Authenticode trust-chain verification is available without
		// platform-specific syscalls (CryptVerifyMessageSignature and a
		// trusted root store), so SignatureValid can't mean "chain
		// verifies." Instead it means "a security directory is present
		// and a certificate could actually be parsed out of it" —
		// HasSignature true with SignatureParsed false is a present but
		// corrupt or truncated signature blob, which the heuristic
		// engine scores the same as an invalid signature. SignerName is
		// read straight out of the parsed certificate's common name
		// whenever one was found, independent of chain trust.
		sc.SignatureValid = raw.HasSignature && raw.SignatureParsed
		sc.SignerName = raw.SignerCN
	}

	lowerPath := strings.ToLower(path)
	sc.FromTempOrAppData = containsAnyFold(lowerPath, suspiciousPathSubstrings)
	sc.InStartupPath = containsAnyFold(lowerPath, startupPathSubstrings)

	if prevalenceStore != nil {
		if entry, ok := prevalenceStore.Get(sc.SHA256); ok {
			sc.PrevalenceSeenCount = entry.SeenCount
			sc.PrevalenceFirstSeen = entry.FirstSeenUTC
			sc.PrevalenceLastSeen = entry.LastSeenUTC
		}
	}

	return sc, nil
}

func parsePE(path string) (*engine.PEInfo, *pe.Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := pe.Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return &engine.PEInfo{
		Valid:           info.Valid,
		Architecture:    info.Architecture,
		SectionNames:    info.SectionNames,
		ImportedDLLs:    info.ImportedDLLs,
		ImportedSymbols: info.ImportedSymbols,
		Entropy:         info.Entropy,
		TimestampUnix:   info.TimestampUnix,
		HasSignature:    info.HasSignature,
		OverlayRatio:    info.OverlayRatio,
	}, info, nil
}

func containsAnyFold(lowerHaystack string, substrings []string) bool {
	for _, s := range substrings {
		if strings.Contains(lowerHaystack, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// creationTime falls back to ModTime when the platform-specific birth
// time isn't exposed through os.FileInfo (Go's stdlib has no portable
// accessor for it outside of syscall-specific type assertions on Sys()).
func creationTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
