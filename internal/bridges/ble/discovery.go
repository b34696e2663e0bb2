package ble

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// PassOutcome describes what one RunOnce call did.
type PassOutcome int

const (
	// PassStopped means the loop was not running.
	PassStopped PassOutcome = iota
	// PassSkipped means the radio was busy or scanning was suspended.
	PassSkipped
	// PassScanned means a scan completed and its frames were dispatched.
	PassScanned
	// PassRestarted means the scan failed and a session restart fixed it.
	PassRestarted
	// PassRecovered means the scan and restart failed and recovery succeeded.
	PassRecovered
	// PassRecoveryFailed means recovery ran and did not bring the radio back.
	PassRecoveryFailed
	// PassRecoveryDeferred means recovery was needed but a writer is waiting.
	PassRecoveryDeferred
)

var passOutcomeNames = [...]string{
	PassStopped:          "stopped",
	PassSkipped:          "skipped",
	PassScanned:          "scanned",
	PassRestarted:        "restarted",
	PassRecovered:        "recovered",
	PassRecoveryFailed:   "recovery_failed",
	PassRecoveryDeferred: "recovery_deferred",
}

func (o PassOutcome) String() string {
	if int(o) < len(passOutcomeNames) {
		return passOutcomeNames[o]
	}
	return "unknown"
}

// LoopStats are cumulative discovery loop counters.
type LoopStats struct {
	Passes              uint64 `json:"passes"`
	Skipped             uint64 `json:"skipped"`
	Frames              uint64 `json:"frames"`
	MatchedFrames       uint64 `json:"matched_frames"`
	ScanFailures        uint64 `json:"scan_failures"`
	Restarts            uint64 `json:"restarts"`
	Recoveries          uint64 `json:"recoveries"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// DiscoveryLoopOptions holds the collaborators of a DiscoveryLoop.
type DiscoveryLoopOptions struct {
	Registry *device.Registry
	Scanner  Scanner
	Guard    *RadioGuard
	Recovery *RecoveryController

	// ScanDuration bounds each scan pass. Default: 1s.
	ScanDuration time.Duration

	// SessionRefreshPasses restarts the scan session after this many
	// successful passes. 0 disables it.
	SessionRefreshPasses int

	Metrics MetricsRecorder
	Logger  Logger
}

// DiscoveryLoop runs scan passes and routes what it hears to devices.
//
// RunOnce is driven by the Scheduler and is never re-entered. Stop may be
// called from any goroutine at any time.
type DiscoveryLoop struct {
	registry *device.Registry
	scanner  Scanner
	guard    *RadioGuard
	recovery *RecoveryController
	duration time.Duration
	refresh  int
	metrics  MetricsRecorder
	logger   Logger

	running  atomic.Bool
	stopOnce sync.Once

	// Owned by the RunOnce goroutine.
	consecutiveFailures int
	passesSinceRefresh  int

	passes          atomic.Uint64
	skipped         atomic.Uint64
	frames          atomic.Uint64
	matched         atomic.Uint64
	failures        atomic.Uint64
	restarts        atomic.Uint64
	recoveries      atomic.Uint64
	lastConsecutive atomic.Int64

	now func() time.Time
}

// NewDiscoveryLoop creates a running loop.
func NewDiscoveryLoop(opts DiscoveryLoopOptions) *DiscoveryLoop {
	l := &DiscoveryLoop{
		registry: opts.Registry,
		scanner:  opts.Scanner,
		guard:    opts.Guard,
		recovery: opts.Recovery,
		duration: opts.ScanDuration,
		refresh:  opts.SessionRefreshPasses,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
	}
	if l.duration <= 0 {
		l.duration = time.Second
	}
	if l.guard == nil {
		l.guard = NewRadioGuard()
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	l.running.Store(true)
	return l
}

// Running reports whether Stop has not yet been called.
func (l *DiscoveryLoop) Running() bool {
	return l.running.Load()
}

// Stats returns a snapshot of the loop counters.
func (l *DiscoveryLoop) Stats() LoopStats {
	return LoopStats{
		Passes:              l.passes.Load(),
		Skipped:             l.skipped.Load(),
		Frames:              l.frames.Load(),
		MatchedFrames:       l.matched.Load(),
		ScanFailures:        l.failures.Load(),
		Restarts:            l.restarts.Load(),
		Recoveries:          l.recoveries.Load(),
		ConsecutiveFailures: int(l.lastConsecutive.Load()),
	}
}

// RunOnce performs one scan pass.
//
// If the radio is busy the pass is skipped. A failed scan is followed by one
// session restart; if that fails too the RecoveryController takes over,
// unless a writer is waiting for the radio.
func (l *DiscoveryLoop) RunOnce(ctx context.Context) PassOutcome {
	if !l.running.Load() {
		return PassStopped
	}
	if !l.guard.TryAcquire() {
		l.skipped.Add(1)
		return PassSkipped
	}
	defer l.guard.Release()

	// Stop may have won the race for the guard's previous holder.
	if !l.running.Load() {
		return PassStopped
	}

	l.passes.Add(1)
	start := l.now()
	frames, err := l.scanner.Scan(ctx, l.duration)
	if err != nil {
		// A pass interrupted by shutdown is not a radio fault.
		if l.shuttingDown(ctx) {
			return PassStopped
		}
		return l.handleScanError(ctx, err, start)
	}

	matched := l.dispatch(frames)
	l.consecutiveFailures = 0
	l.lastConsecutive.Store(0)
	if l.metrics != nil {
		l.metrics.RecordScanPass(len(frames), matched, l.now().Sub(start), nil)
	}
	l.refreshSession(ctx)
	return PassScanned
}

// dispatch routes frames in the order received and returns how many were
// attributed to at least one device.
func (l *DiscoveryLoop) dispatch(frames []AdvertisementFrame) int {
	matched := 0
	for _, frame := range frames {
		l.frames.Add(1)
		devices := l.registry.Lookup(frame.Address)
		if len(devices) == 0 {
			continue
		}
		matched++
		l.matched.Add(1)

		seen := frame.ReceivedAt
		if seen.IsZero() {
			seen = l.now()
		}
		for _, d := range devices {
			d.Touch(seen)
			for _, field := range frame.Fields {
				d.Decode(field.Type, field.Payload)
			}
		}
	}
	return matched
}

func (l *DiscoveryLoop) handleScanError(ctx context.Context, scanErr error, start time.Time) PassOutcome {
	l.consecutiveFailures++
	l.lastConsecutive.Store(int64(l.consecutiveFailures))
	l.failures.Add(1)
	l.logger.Warn("scan pass failed",
		"error", scanErr,
		"consecutive_failures", l.consecutiveFailures)
	if l.metrics != nil {
		l.metrics.RecordScanPass(0, 0, l.now().Sub(start), scanErr)
	}

	err := l.scanner.Restart(ctx)
	if err == nil {
		l.restarts.Add(1)
		l.passesSinceRefresh = 0
		l.logger.Info("scan session restarted")
		return PassRestarted
	}
	l.logger.Warn("scan session restart failed", "error", err)

	if l.shuttingDown(ctx) {
		return PassStopped
	}
	if l.guard.Suspended() {
		l.logger.Info("recovery deferred while a command is pending")
		return PassRecoveryDeferred
	}
	if l.recovery == nil {
		return PassRecoveryFailed
	}

	ok := l.recovery.Recover(ctx)
	l.consecutiveFailures = 0
	l.lastConsecutive.Store(0)
	l.passesSinceRefresh = 0
	if !ok {
		return PassRecoveryFailed
	}
	l.recoveries.Add(1)
	return PassRecovered
}

func (l *DiscoveryLoop) shuttingDown(ctx context.Context) bool {
	return ctx.Err() != nil || !l.running.Load()
}

// refreshSession restarts the scan session every refresh successful passes
// so the stack does not suppress repeated advertisements.
func (l *DiscoveryLoop) refreshSession(ctx context.Context) {
	if l.refresh <= 0 {
		return
	}
	l.passesSinceRefresh++
	if l.passesSinceRefresh < l.refresh {
		return
	}
	l.passesSinceRefresh = 0
	if err := l.scanner.Restart(ctx); err != nil {
		l.logger.Debug("scan session refresh failed", "error", err)
	}
}

// Stop ends the loop and releases the scanner.
//
// It waits for an in-flight pass to finish before closing the scanner, so a
// pass never observes a closed session. Safe to call more than once.
func (l *DiscoveryLoop) Stop() {
	l.running.Store(false)
	l.stopOnce.Do(func() {
		l.guard.Acquire()
		defer l.guard.Release()
		if err := l.scanner.Close(); err != nil {
			l.logger.Warn("closing scanner failed", "error", err)
		}
		l.logger.Info("discovery loop stopped", "passes", l.passes.Load())
	})
}
