package ble

import (
	"context"
	"sync"
	"time"
)

// RecoveryState is the adapter recovery state.
type RecoveryState int

const (
	// RecoveryIdle means no recovery is running and the last one (if any)
	// succeeded.
	RecoveryIdle RecoveryState = iota

	// RecoveryRecovering means a recovery is in progress.
	RecoveryRecovering

	// RecoveryFailed means the last recovery exhausted its attempts.
	// It is not terminal: a later Recover call tries again once the
	// cooldown has passed.
	RecoveryFailed
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryIdle:
		return "idle"
	case RecoveryRecovering:
		return "recovering"
	case RecoveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RecoveryPolicy is the retry policy for adapter recovery.
type RecoveryPolicy struct {
	MaxAttempts    int
	ProbeDuration  time.Duration
	SettleDelay    time.Duration
	AttemptDelay   time.Duration
	Cooldown       time.Duration
	RestartService bool
}

// DefaultRecoveryPolicy returns the policy used when none is configured.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxAttempts:    3,
		ProbeDuration:  time.Second,
		SettleDelay:    500 * time.Millisecond,
		AttemptDelay:   2 * time.Second,
		Cooldown:       30 * time.Second,
		RestartService: true,
	}
}

// RecoveryController escalates from a failed scan to an adapter reset.
//
// Each attempt powers the adapter down and up, asks the host to restart the
// Bluetooth service without waiting for it, lets the radio settle and then
// probes it with a short scan. The first successful probe ends recovery.
//
// Recover must be called by the radio owner (the discovery loop while it
// holds the RadioGuard).
type RecoveryController struct {
	adapter AdapterController
	scanner Scanner
	policy  RecoveryPolicy

	mu           sync.Mutex
	state        RecoveryState
	attempts     int
	failedAt     time.Time
	lastRecovery time.Time

	metrics MetricsRecorder
	events  EventRecorder
	logger  Logger

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewRecoveryController creates a controller in the Idle state.
func NewRecoveryController(adapter AdapterController, scanner Scanner, policy RecoveryPolicy) *RecoveryController {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RecoveryController{
		adapter: adapter,
		scanner: scanner,
		policy:  policy,
		logger:  noopLogger{},
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetLogger sets the logger for the controller.
func (r *RecoveryController) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetMetrics sets the optional metrics recorder.
func (r *RecoveryController) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// SetEvents sets the optional event recorder.
func (r *RecoveryController) SetEvents(e EventRecorder) {
	r.events = e
}

// State returns the current recovery state.
func (r *RecoveryController) State() RecoveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts returns the number of attempts made by the most recent recovery.
func (r *RecoveryController) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// LastRecovery returns when the radio last recovered successfully.
func (r *RecoveryController) LastRecovery() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRecovery
}

// Recover runs the recovery procedure and reports whether the radio works
// again.
//
// It returns false without touching the adapter when a recovery is already
// running or when the previous one failed less than Cooldown ago.
func (r *RecoveryController) Recover(ctx context.Context) bool {
	r.mu.Lock()
	switch {
	case r.state == RecoveryRecovering:
		r.mu.Unlock()
		return false
	case r.state == RecoveryFailed && r.now().Sub(r.failedAt) < r.policy.Cooldown:
		r.mu.Unlock()
		r.logger.Debug("recovery suppressed during cooldown", "failed_at", r.failedAt)
		return false
	}
	r.state = RecoveryRecovering
	r.attempts = 0
	r.mu.Unlock()

	start := r.now()
	r.logger.Warn("starting radio recovery", "max_attempts", r.policy.MaxAttempts)

	ok := false
	attempt := 0
	for attempt < r.policy.MaxAttempts {
		if attempt > 0 && !r.sleep(ctx, r.policy.AttemptDelay) {
			break
		}
		attempt++
		r.mu.Lock()
		r.attempts = attempt
		r.mu.Unlock()

		if r.attempt(ctx, attempt) {
			ok = true
			break
		}
	}

	r.mu.Lock()
	if ok {
		r.state = RecoveryIdle
		r.lastRecovery = r.now()
	} else {
		r.state = RecoveryFailed
		r.failedAt = r.now()
	}
	r.mu.Unlock()

	elapsed := r.now().Sub(start)
	if ok {
		r.logger.Info("radio recovered", "attempts", attempt, "duration", elapsed)
	} else {
		r.logger.Error("radio recovery failed", "attempts", attempt, "duration", elapsed)
	}
	if r.metrics != nil {
		r.metrics.RecordRecovery(attempt, ok, elapsed)
	}
	r.recordEvent(ctx, ok, attempt)
	return ok
}

// attempt runs one down/up/restart/probe cycle.
func (r *RecoveryController) attempt(ctx context.Context, n int) bool {
	if err := r.adapter.Down(ctx); err != nil {
		r.logger.Warn("adapter down failed", "attempt", n, "error", err)
	}
	if err := r.adapter.Up(ctx); err != nil {
		r.logger.Warn("adapter up failed", "attempt", n, "error", err)
	}
	if r.policy.RestartService {
		if err := r.adapter.RestartService(ctx); err != nil {
			r.logger.Warn("service restart request failed", "attempt", n, "error", err)
		}
	}
	if !r.sleep(ctx, r.policy.SettleDelay) {
		return false
	}
	if _, err := r.scanner.Scan(ctx, r.policy.ProbeDuration); err != nil {
		r.logger.Warn("probe scan failed", "attempt", n, "error", err)
		return false
	}
	return true
}

func (r *RecoveryController) recordEvent(ctx context.Context, ok bool, attempts int) {
	if r.events == nil {
		return
	}
	kind := EventRecovered
	if !ok {
		kind = EventRecoveryFailed
	}
	if err := r.events.RecordEvent(context.WithoutCancel(ctx), kind, "", attemptsDetail(attempts)); err != nil {
		r.logger.Warn("failed to record recovery event", "error", err)
	}
}

// sleepContext waits for d or until ctx is done. It reports whether the
// full duration elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
