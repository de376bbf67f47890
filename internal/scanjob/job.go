// Package scanjob implements the on-demand scan runner backing the
// control surface's scan_path/get_scan_progress/stop_scan operations.
// Job status is a small enum, progress is a handful of mutex-guarded
// counters updated as files are scanned.
package scanjob

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentineld/sentineld/internal/engine"
)

// Status is a ScanJob's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// ScanType selects which roots a job scans; Custom uses the paths given
// at creation, Quick/Full are reserved for host-wide presets a caller
// may request by name.
type ScanType string

const (
	ScanTypeCustom ScanType = "custom"
	ScanTypeQuick  ScanType = "quick"
	ScanTypeFull   ScanType = "full"
)

// Job is the mutable state of one scan run.
type Job struct {
	ID       string
	Paths    []string
	ScanType ScanType

	mu           sync.Mutex
	total        int
	scanned      int
	threatsFound int
	currentPath  string
	status       Status
	startedAt    time.Time
	completedAt  time.Time

	cancel context.CancelFunc
}

// Progress is the DTO returned by get_scan_progress.
type Progress struct {
	JobID        string `json:"job_id"`
	Total        int    `json:"total"`
	Scanned      int    `json:"scanned"`
	ThreatsFound int    `json:"threats_found"`
	CurrentPath  string `json:"current_path"`
	Status       Status `json:"status"`
}

func newJob(paths []string, scanType ScanType) *Job {
	return &Job{
		ID:       uuid.NewString(),
		Paths:    paths,
		ScanType: scanType,
		status:   StatusRunning,
	}
}

func (j *Job) Progress() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Progress{
		JobID:        j.ID,
		Total:        j.total,
		Scanned:      j.scanned,
		ThreatsFound: j.threatsFound,
		CurrentPath:  j.currentPath,
		Status:       j.status,
	}
}

func (j *Job) setTotal(n int) {
	j.mu.Lock()
	j.total = n
	j.mu.Unlock()
}

func (j *Job) recordScanned(path string, result engine.AggregatedResult) {
	j.mu.Lock()
	j.scanned++
	j.currentPath = path
	if result.Verdict != engine.Allow {
		j.threatsFound++
	}
	j.mu.Unlock()
}

func (j *Job) finish(status Status) {
	j.mu.Lock()
	j.status = status
	j.completedAt = time.Now().UTC()
	j.mu.Unlock()
}

// Stop cancels the job's run context; the worker loop observes this and
// transitions status to StatusStopped once it unwinds.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
