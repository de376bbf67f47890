package pipeline

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentineld/sentineld/internal/aggregate"
	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/engine"
	"github.com/sentineld/sentineld/internal/executor"
	"github.com/sentineld/sentineld/internal/fsid"
	"github.com/sentineld/sentineld/internal/logging"
	"github.com/sentineld/sentineld/internal/prevalence"
	"github.com/sentineld/sentineld/internal/quarantine"
)

const idlePollInterval = time.Second

// PressureSink receives the high-pressure flag; the aggregator satisfies
// this directly (SetHighPressure(bool)).
type PressureSink interface {
	SetHighPressure(bool)
}

// Pipeline wires the watcher, coalescer, bounded queue, and worker pool
// that back real-time protection. It also implements watchdog.Worker
// (LastHeartbeat/Running/Restart) and watchdog.PressureSource
// (PendingCount), so a watchdog.Watchdog can supervise it directly.
type Pipeline struct {
	log *logging.Logger
	cfg *config.Config

	roots            []string
	walkOpts         fsid.WalkOptions
	aggregator       *aggregate.Aggregator
	quickGateEngines []engine.Engine
	quarantineStore  *quarantine.Store
	exec             *executor.Executor
	broadcaster      *egress.Broadcaster
	prevalenceStore  *prevalence.Store
	pressureSink     PressureSink

	active *activeSet
	queue  *Queue

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	watcher   *Watcher
	coalescer *Coalescer
	running   bool
	wg        sync.WaitGroup

	lastHeartbeatUnixNano int64
}

// New creates a Pipeline. quickGateEngines is the reduced engine subset
// run at watcher-dispatch time ( — typically
// signature, heuristic, and script-scan).
func New(
	cfg *config.Config,
	roots []string,
	aggregator *aggregate.Aggregator,
	quickGateEngines []engine.Engine,
	quarantineStore *quarantine.Store,
	exec *executor.Executor,
	broadcaster *egress.Broadcaster,
	prevalenceStore *prevalence.Store,
	pressureSink PressureSink,
) *Pipeline {
	walkOpts := fsid.WalkOptions{
		ExcludedFolders:    cfg.ExcludedFolders,
		ExcludedExtensions: cfg.ExcludedExtensions,
		MaxFileSizeBytes:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		QuarantineRoot:     cfg.QuarantinePath,
	}
	return &Pipeline{
		log:              logging.New("PIPELINE"),
		cfg:              cfg,
		roots:            roots,
		walkOpts:         walkOpts,
		aggregator:       aggregator,
		quickGateEngines: quickGateEngines,
		quarantineStore:  quarantineStore,
		exec:             exec,
		broadcaster:      broadcaster,
		prevalenceStore:  prevalenceStore,
		pressureSink:     pressureSink,
		active:           newActiveSet(),
	}
}

// Start begins watching roots and launches the worker pool. Safe to call
// again after Stop (used by Restart).
func (p *Pipeline) Start(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(parent)
	p.queue = NewQueue(p.cfg.PipelineQueueCapacity)

	rawEvents := make(chan FileEvent, 256)
	p.coalescer = NewCoalescer(time.Duration(p.cfg.EventCoalesceMs)*time.Millisecond, func(ev FileEvent) {
		p.queue.TryPush(ev)
	})

	watcher, err := NewWatcher(p.roots, p.walkOpts, rawEvents)
	if err != nil {
		p.cancel()
		return err
	}
	p.watcher = watcher

	stopWatch := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		go watcher.Run(stopWatch)
		for {
			select {
			case <-p.ctx.Done():
				close(stopWatch)
				return
			case ev := <-rawEvents:
				p.coalescer.OnEvent(ev)
			}
		}
	}()

	workers := p.cfg.PipelineScanWorkers
	if max := maxCPU(); workers > max {
		workers = max
	}
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}

	p.beat()
	p.running = true
	return nil
}

// Stop drains and shuts down the watcher and worker pool, cancelling
// in-flight engine scans via context.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.coalescer.Stop()
	p.queue.Close()
	watcher := p.watcher
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	if watcher != nil {
		_ = watcher.Close()
	}
}

// Restart implements watchdog.Worker: dispose of the current watcher and
// worker pool, then start a fresh one.
func (p *Pipeline) Restart() error {
	p.Stop()
	return p.Start(context.Background())
}

// Running implements watchdog.Worker.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastHeartbeat implements watchdog.Worker.
func (p *Pipeline) LastHeartbeat() time.Time {
	return time.Unix(0, atomic.LoadInt64(&p.lastHeartbeatUnixNano))
}

func (p *Pipeline) beat() {
	atomic.StoreInt64(&p.lastHeartbeatUnixNano, time.Now().UnixNano())
}

// PendingCount implements watchdog.PressureSource.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	q := p.queue
	p.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.Len()
}

func (p *Pipeline) workerLoop() {
	defer p.wg.Done()
	for {
		ev, ok, timedOut := p.queue.PopWait(p.ctx, idlePollInterval)
		p.beat()
		if timedOut {
			continue
		}
		if !ok {
			return
		}
		p.processEvent(ev)
	}
}

// processEvent implements the per-event worker algorithm.
func (p *Pipeline) processEvent(ev FileEvent) {
	if !p.active.TryAcquire(ev.Path) {
		return // another sequence for this path is already in flight
	}
	defer p.active.Release(ev.Path)

	if p.pendingHighPressure() {
		p.pressureSink.SetHighPressure(true)
	}

	info, err := os.Stat(ev.Path)
	if err != nil || info.IsDir() {
		return
	}
	if p.walkOpts.UnderQuarantineRoot(ev.Path) {
		return
	}
	if p.walkOpts.IsExcludedExtension(ev.Path) {
		return
	}
	if p.walkOpts.MaxFileSizeBytes > 0 && info.Size() > p.walkOpts.MaxFileSizeBytes {
		return
	}

	sc, err := fsid.BuildContext(ev.Path, p.prevalenceStore)
	if err != nil {
		p.log.Printf("failed to build context for %s: %v", ev.Path, err)
		return
	}

	if p.quickGate(sc) {
		p.handleQuickGateThreat(sc)
		return
	}

	result := p.aggregator.Scan(p.ctx, sc)
	if result.Verdict != engine.Allow {
		if _, err := p.exec.Apply(sc, result); err != nil {
			p.log.Printf("action executor failed for %s: %v", sc.Path, err)
		}
	}
}

// pendingHighPressure backs the worker's own immediate pressure check.
// It only ever flips the flag on; the recovery transition back to normal
// is the watchdog's hysteresis-based job, which runs against a separate,
// coarser threshold pair so brief queue spikes here don't fight the
// watchdog's degraded/normal state.
func (p *Pipeline) pendingHighPressure() bool {
	return p.cfg.PipelineHighPressureThreshold > 0 && p.PendingCount() >= p.cfg.PipelineHighPressureThreshold
}

// quickGate runs the reduced engine subset and reports whether the
// weighted score meets the quick-gate threshold.
func (p *Pipeline) quickGate(sc *engine.ScanContext) bool {
	if len(p.quickGateEngines) == 0 {
		return false
	}
	results := make([]engine.EngineResult, 0, len(p.quickGateEngines))
	for _, e := range p.quickGateEngines {
		if !e.Ready() {
			continue
		}
		results = append(results, e.Scan(p.ctx, sc))
	}
	score, _ := aggregate.Score(results, p.cfg)
	return score >= p.cfg.QuickGateThreshold
}

// handleQuickGateThreat implements  "go to atomic
// quarantine path; after quarantine, run a full aggregation ... and
// record the event as a threat." The full aggregation runs FIRST, with
// the original file still in place: engines need plaintext bytes, and
// once quarantine.Store moves+encrypts the file those bytes are sealed
// behind an AEAD and a wrapped content key, making a genuine
// scan-after-move impossible without a decrypt round trip. Running the
// full scan immediately before the move gives the quarantine entry the
// complete aggregated result while still honoring "quick-gate hit means
// quarantine, unconditionally" rather than deferring to the action
// executor's policy mode.
func (p *Pipeline) handleQuickGateThreat(sc *engine.ScanContext) {
	result := p.aggregator.Scan(p.ctx, sc)

	entry, err := p.quarantineStore.Quarantine(sc, result)
	if err != nil {
		p.log.Printf("quick-gate atomic move failed for %s: %v", sc.Path, err)
		return
	}

	if p.broadcaster != nil {
		payload := egress.ThreatDetectedPayload{
			Path:            sc.Path,
			Name:            entry.ThreatName,
			Verdict:         string(result.Verdict),
			RiskScore:       result.RiskScore,
			AutoQuarantined: entry.OriginalRemoved,
		}
		if !entry.OriginalRemoved {
			payload.FailureReason = entry.RemovalError.Error()
		}
		p.broadcaster.Publish(egress.New(egress.ThreatDetected, payload))
	}
}

func maxCPU() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}
