package scanjob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/aggregate"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/errkind"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/fsid"
	"github.com/sentineld/sentineld/internal/logging"
	"github.com/sentineld/sentineld/internal/prevalence"
)

var log = logging.New("SCANJOB")

// Manager tracks in-flight and completed scan jobs in a plain map keyed
// by job ID; lookup needs no priority ordering.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	cfg             *config.Config
	aggregator      *aggregate.Aggregator
	exec            *executor.Executor
	broadcaster     *egress.Broadcaster
	prevalenceStore *prevalence.Store
}

// NewManager creates a Manager wired to the shared aggregator, executor,
// and egress broadcaster the real-time pipeline also uses.
func NewManager(cfg *config.Config, aggregator *aggregate.Aggregator, exec *executor.Executor, broadcaster *egress.Broadcaster, prevalenceStore *prevalence.Store) *Manager {
	return &Manager{
		jobs:            make(map[string]*Job),
		cfg:             cfg,
		aggregator:      aggregator,
		exec:            exec,
		broadcaster:     broadcaster,
		prevalenceStore: prevalenceStore,
	}
}

// Start creates a Job for the given paths and launches its scan loop in
// the background, returning immediately with the job ID (
// scan_path: "job_id, then progress/result events").
func (m *Manager) Start(paths []string, scanType ScanType) *Job {
	job := newJob(paths, scanType)
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel
	job.startedAt = time.Now().UTC()

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.run(ctx, job)
	return job
}

// Get returns the job for id, if known.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Stop cancels the named job's run. Returns NotFound if the job doesn't
// exist.
func (m *Manager) Stop(id string) error {
	job, ok := m.Get(id)
	if !ok {
		return errkind.New(errkind.NotFound, id, fmt.Errorf("scan job not found"))
	}
	job.Stop()
	return nil
}

func (m *Manager) run(ctx context.Context, job *Job) {
	walkOpts := fsid.WalkOptions{
		ExcludedFolders:    m.cfg.ExcludedFolders,
		ExcludedExtensions: m.cfg.ExcludedExtensions,
		MaxFileSizeBytes:   int64(m.cfg.MaxFileSizeMB) * 1024 * 1024,
		QuarantineRoot:     m.cfg.QuarantinePath,
	}

	paths, err := fsid.Walk(job.Paths, walkOpts)
	if err != nil {
		log.Printf("job %s: walk failed: %v", job.ID, err)
		job.finish(StatusFailed)
		return
	}

	// fsid.Walk streams as it discovers files; buffer everything first so
	// total is known up front for progress reporting, same tradeoff the
	// spec's ScanJob.total field implies (a caller polling progress
	// expects total to stabilize, not grow indefinitely mid-scan).
	var all []string
	for p := range paths {
		all = append(all, p)
	}
	job.setTotal(len(all))

	for _, path := range all {
		select {
		case <-ctx.Done():
			job.finish(StatusStopped)
			m.publishProgress(job)
			return
		default:
		}

		sc, err := fsid.BuildContext(path, m.prevalenceStore)
		if err != nil {
			continue
		}
		result := m.aggregator.Scan(ctx, sc)
		job.recordScanned(path, result)

		if result.Verdict != engine.Allow {
			if _, err := m.exec.Apply(sc, result); err != nil {
				log.Printf("job %s: action executor failed for %s: %v", job.ID, path, err)
			}
		}

		m.publishProgress(job)
	}

	job.finish(StatusCompleted)
	m.publishCompleted(job)
}

func (m *Manager) publishProgress(job *Job) {
	if m.broadcaster == nil {
		return
	}
	p := job.Progress()
	m.broadcaster.Publish(egress.New(egress.ScanProgress, egress.ScanProgressPayload{
		JobID:        p.JobID,
		Total:        p.Total,
		Scanned:      p.Scanned,
		ThreatsFound: p.ThreatsFound,
		CurrentPath:  p.CurrentPath,
		Status:       string(p.Status),
	}))
}

func (m *Manager) publishCompleted(job *Job) {
	if m.broadcaster == nil {
		return
	}
	p := job.Progress()
	m.broadcaster.Publish(egress.New(egress.ScanCompleted, egress.ScanCompletedPayload{
		JobID:        p.JobID,
		Total:        p.Total,
		ThreatsFound: p.ThreatsFound,
		DurationMS:   time.Since(job.startedAt).Milliseconds(),
	}))
}
