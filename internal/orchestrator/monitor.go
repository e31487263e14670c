package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"advision/internal/models"
)

// monitor bundles the handles of the three periodic activities that run
// while a job is Processing: the progress heuristic, the log poller and the
// extended-wait watchdog. All three share one goroutine and one cadence and
// are torn down together through the done channel.
type monitor struct {
	done     chan struct{}
	stopOnce sync.Once
}

func newMonitor() *monitor {
	return &monitor{done: make(chan struct{})}
}

// stop is idempotent: the first call closes the channel, later calls no-op.
func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// startMonitorLocked spins up the processing monitor for job version v.
// Caller holds o.mu.
func (o *Orchestrator) startMonitorLocked(v int64) {
	if o.mon != nil {
		return
	}
	m := newMonitor()
	o.mon = m
	go o.runMonitor(v, m)
}

// stopMonitorLocked tears the monitor down and clears the handle so repeated
// stops are no-ops. Caller holds o.mu.
func (o *Orchestrator) stopMonitorLocked() {
	if o.mon == nil {
		return
	}
	o.mon.stop()
	o.mon = nil
}

func (o *Orchestrator) runMonitor(v int64, m *monitor) {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()
	watchdog := time.NewTimer(o.watchdog)
	defer watchdog.Stop()

	// Base heuristic increment per tick, as a percentage of the assumed
	// total processing budget.
	base := float64(o.tick) / float64(o.budget) * 100

	for {
		select {
		case <-m.done:
			return
		case <-watchdog.C:
			o.raiseAdvisory(v)
		case <-ticker.C:
			o.bumpProgress(v, base)
			o.pollLogs(v)
		}
	}
}

// bumpProgress advances the heuristic by the base increment plus bounded
// jitter, ceilinged at 99 until the job actually resolves.
func (o *Orchestrator) bumpProgress(v int64, base float64) {
	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status != models.StatusProcessing {
		o.mu.Unlock()
		return
	}
	o.procProgress += base + rand.Float64()*base/2
	if o.procProgress > 99 {
		o.procProgress = 99
	}
	pct := int(o.procProgress)
	changed := pct != o.job.ProcessingProgress
	o.job.ProcessingProgress = pct
	o.mu.Unlock()

	if changed && o.cb.OnProcessingProgress != nil {
		o.cb.OnProcessingProgress(pct)
	}
}

// pollLogs replaces the live buffer wholesale with the latest service logs.
// Fetch failures are recorded and the poller keeps going.
func (o *Orchestrator) pollLogs(v int64) {
	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status != models.StatusProcessing {
		o.mu.Unlock()
		return
	}
	videoID := o.job.RemoteJobID
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.tick)
	lines, err := o.svc.FetchLogs(ctx, videoID)
	cancel()
	if err != nil {
		o.logger.Warn("log poll failed", zap.Error(err))
		return
	}

	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status != models.StatusProcessing {
		o.mu.Unlock()
		return
	}
	o.logBuffer = lines
	o.mu.Unlock()

	if o.cb.OnLogs != nil {
		o.cb.OnLogs(lines)
	}
}

// raiseAdvisory fires the one-shot extended-wait notice. It never cancels or
// fails the job.
func (o *Orchestrator) raiseAdvisory(v int64) {
	o.mu.Lock()
	stale := o.version != v || o.job == nil || o.job.Status != models.StatusProcessing
	o.mu.Unlock()
	if stale {
		return
	}

	msg := "processing is taking longer than expected; the job is still running"
	o.logger.Warn(msg, zap.Duration("threshold", o.watchdog))
	if o.cb.OnAdvisory != nil {
		o.cb.OnAdvisory(msg)
	}
	o.sessionLog(context.Background(), models.LevelWarn, msg)
}
