// Package pipeline implements the real-time scanning path:
// watcher adapter -> coalescer -> bounded queue -> worker pool ->
// quick-gate -> full scan -> action executor.
package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// ChangeKind is the filesystem operation that produced a FileEvent.
type ChangeKind string

const (
	Created  ChangeKind = "Created"
	Modified ChangeKind = "Modified"
	Renamed  ChangeKind = "Renamed"
)

// FileEvent is the ingress shape emitted by the watcher adapter
// ( "FileEvent { path, change_kind, timestamp_utc }").
type FileEvent struct {
	Path         string
	ChangeKind   ChangeKind
	TimestampUTC time.Time
}

// temporaryLikeExtensions backs the bounded queue's secondary refusal
// rule: "if queue occupancy >= 80% AND the incoming path looks temporary
// ... the event is refused at the producer".
var temporaryLikeExtensions = map[string]struct{}{
	".tmp":     {},
	".temp":    {},
	".log":     {},
	".partial": {},
	".crdownload": {},
	".download":   {},
}

func looksTemporary(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := temporaryLikeExtensions[ext]
	return ok
}
