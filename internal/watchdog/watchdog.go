// Package watchdog implements liveness supervision of the real-time
// worker loop and hysteresis-based degraded-mode transitions. The
// crash-loop protection is a restart counter within a rolling window,
// disabling auto-restart once a limit is exceeded.
package watchdog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/logging"
)

// Health mirrors CaptainStatus's running/crashed/disabled states,
// narrowed to what the watchdog itself reports.
type Health string

const (
	HealthRunning  Health = "running"
	HealthDegraded Health = "degraded"
	HealthFatal    Health = "fatal"
)

// Worker is the real-time worker loop the watchdog supervises.
type Worker interface {
	// LastHeartbeat returns the time the worker last made progress.
	LastHeartbeat() time.Time
	// Running reports whether the worker loop is currently alive.
	Running() bool
	// Restart disposes of the current worker and starts a fresh one.
	Restart() error
}

// PressureSource reports the real-time pipeline's current backlog.
type PressureSource interface {
	PendingCount() int
}

// PressureSink receives degraded-mode transitions, generally the
// aggregator's SetHighPressure.
type PressureSink interface {
	SetHighPressure(bool)
}

// Watchdog ticks every config.WatchdogInterval, checking worker
// liveness and pipeline pressure.
type Watchdog struct {
	log    *logging.Logger
	cfg    *config.Config
	worker Worker
	source PressureSource
	sink   PressureSink

	mu                 sync.Mutex
	lastSeenHeartbeat  time.Time
	restartCount       int
	restartWindowStart time.Time
	health             Health
	degraded           bool
	recentAlerts       map[string]time.Time
}

// New creates a Watchdog. worker/source/sink may be nil in
// configurations that disable real-time protection; Tick becomes a
// no-op for whichever half is absent.
func New(cfg *config.Config, worker Worker, source PressureSource, sink PressureSink) *Watchdog {
	return &Watchdog{
		log:          logging.New("WATCHDOG"),
		cfg:          cfg,
		worker:       worker,
		source:       source,
		sink:         sink,
		health:       HealthRunning,
		recentAlerts: make(map[string]time.Time),
	}
}

// Health reports the watchdog's current assessment.
func (w *Watchdog) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.health
}

// Run ticks every cfg.WatchdogInterval() until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.WatchdogInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}

// Tick performs one liveness check and one pressure check. Exported so
// tests can drive the watchdog deterministically without real timers.
func (w *Watchdog) Tick() {
	w.checkLiveness()
	w.checkPressure()
}

func (w *Watchdog) checkLiveness() {
	if w.worker == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.health == HealthFatal {
		return
	}

	heartbeat := w.worker.LastHeartbeat()
	firstTick := w.lastSeenHeartbeat.IsZero()
	advanced := heartbeat.After(w.lastSeenHeartbeat)
	w.lastSeenHeartbeat = heartbeat

	if w.worker.Running() && (advanced || firstTick) {
		return
	}

	w.log.Printf("worker loop unresponsive (running=%v, heartbeat advanced=%v), restarting", w.worker.Running(), advanced)
	w.recordRestartLocked()
	if w.health == HealthFatal {
		return
	}
	if err := w.worker.Restart(); err != nil {
		w.log.Printf("failed to restart worker: %v", err)
	}
}

// recordRestartLocked implements the crash-loop window accounting,
// mirroring CaptainSupervisor.handleExit's respawn bookkeeping. Caller
// must hold w.mu.
func (w *Watchdog) recordRestartLocked() {
	now := time.Now()
	window := w.cfg.WatchdogRestartWindow()
	if w.restartWindowStart.IsZero() || now.Sub(w.restartWindowStart) > window {
		w.restartWindowStart = now
		w.restartCount = 1
	} else {
		w.restartCount++
	}

	if w.restartCount > w.cfg.WatchdogRestartLimit {
		w.health = HealthFatal
		w.log.Printf("restart limit exceeded (%d restarts in %v) — reporting fatal health condition", w.restartCount, window)
	}
}

func (w *Watchdog) checkPressure() {
	if w.source == nil {
		return
	}
	pending := w.source.PendingCount()

	w.mu.Lock()
	wasDegraded := w.degraded
	if !w.degraded && pending >= w.cfg.DegradedThreshold {
		w.degraded = true
	} else if w.degraded && pending <= w.cfg.DegradedRecoveryThreshold {
		w.degraded = false
	}
	nowDegraded := w.degraded
	if w.health != HealthFatal {
		if nowDegraded {
			w.health = HealthDegraded
		} else {
			w.health = HealthRunning
		}
	}
	w.mu.Unlock()

	if nowDegraded == wasDegraded {
		return
	}
	if w.sink != nil {
		w.sink.SetHighPressure(nowDegraded)
	}
	if nowDegraded {
		w.alertOnce(fmt.Sprintf("degraded-enter-%d", pending/1000), fmt.Sprintf("entering degraded mode: pending=%d >= threshold=%d", pending, w.cfg.DegradedThreshold))
	} else {
		w.log.Printf("recovering from degraded mode: pending=%d <= recovery=%d", pending, w.cfg.DegradedRecoveryThreshold)
	}
}

// alertOnce logs key at most once per 5 minutes, using a
// last-logged-timestamp map keyed by alert key.
func (w *Watchdog) alertOnce(key, message string) {
	w.mu.Lock()
	now := time.Now()
	for k, t := range w.recentAlerts {
		if now.Sub(t) > 5*time.Minute {
			delete(w.recentAlerts, k)
		}
	}
	if _, seen := w.recentAlerts[key]; seen {
		w.mu.Unlock()
		return
	}
	w.recentAlerts[key] = now
	w.mu.Unlock()

	w.log.Printf("%s", message)
}
