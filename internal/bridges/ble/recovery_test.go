package ble

import (
	"context"
	"reflect"
	"testing"
	"time"
)

// testClock is a manually advanced clock.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRecovery(scanner *fakeScanner, policy RecoveryPolicy) (*RecoveryController, *callLog, *testClock) {
	log := &callLog{}
	scanner.log = log
	clock := &testClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	r := NewRecoveryController(&fakeAdapter{log: log}, scanner, policy)
	r.now = clock.now
	r.sleep = noSleep
	return r, log, clock
}

func TestRecoveryController_FirstAttemptSucceeds(t *testing.T) {
	r, log, _ := newTestRecovery(&fakeScanner{}, DefaultRecoveryPolicy())

	if !r.Recover(context.Background()) {
		t.Fatal("Recover() = false, want true")
	}
	want := []string{"down", "up", "restart_service", "scan"}
	if got := log.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	if r.State() != RecoveryIdle || r.Attempts() != 1 {
		t.Errorf("state/attempts = %v/%d, want idle/1", r.State(), r.Attempts())
	}
	if r.LastRecovery().IsZero() {
		t.Error("LastRecovery() not recorded")
	}
}

func TestRecoveryController_ExhaustsAttempts(t *testing.T) {
	metrics := &fakeMetrics{}
	events := &fakeEvents{}
	r, log, _ := newTestRecovery(&fakeScanner{scanErr: errRadio}, DefaultRecoveryPolicy())
	r.SetMetrics(metrics)
	r.SetEvents(events)

	if r.Recover(context.Background()) {
		t.Fatal("Recover() = true with a dead radio")
	}
	if r.State() != RecoveryFailed {
		t.Errorf("State() = %v, want failed", r.State())
	}
	if r.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", r.Attempts())
	}
	for _, call := range []string{"down", "up", "restart_service", "scan"} {
		if n := log.count(call); n != 3 {
			t.Errorf("%s calls = %d, want 3", call, n)
		}
	}
	if len(metrics.recoveries) != 1 || metrics.recoveries[0] {
		t.Errorf("recorded recoveries = %v, want [false]", metrics.recoveries)
	}
	if len(events.kinds) != 1 || events.kinds[0] != EventRecoveryFailed {
		t.Errorf("events = %v, want [%s]", events.kinds, EventRecoveryFailed)
	}
}

func TestRecoveryController_CooldownThenRetry(t *testing.T) {
	scanner := &fakeScanner{scanErr: errRadio}
	r, log, clock := newTestRecovery(scanner, DefaultRecoveryPolicy())

	r.Recover(context.Background())
	calls := len(log.snapshot())

	clock.advance(10 * time.Second)
	if r.Recover(context.Background()) {
		t.Fatal("Recover() during cooldown = true")
	}
	if len(log.snapshot()) != calls {
		t.Error("adapter touched during cooldown")
	}

	// Failed is not terminal: after the cooldown a working radio recovers.
	clock.advance(30 * time.Second)
	scanner.mu.Lock()
	scanner.scanErr = nil
	scanner.mu.Unlock()

	if !r.Recover(context.Background()) {
		t.Fatal("Recover() after cooldown = false")
	}
	if r.State() != RecoveryIdle {
		t.Errorf("State() = %v, want idle", r.State())
	}
}

func TestRecoveryController_AdapterErrorsDoNotAbort(t *testing.T) {
	log := &callLog{}
	scanner := &fakeScanner{log: log}
	r := NewRecoveryController(&fakeAdapter{log: log, err: errRadio}, scanner, DefaultRecoveryPolicy())
	r.sleep = noSleep

	if !r.Recover(context.Background()) {
		t.Error("a successful check scan should recover even if adapter commands failed")
	}
}

func TestRecoveryController_ServiceRestartOptional(t *testing.T) {
	policy := DefaultRecoveryPolicy()
	policy.RestartService = false
	r, log, _ := newTestRecovery(&fakeScanner{}, policy)

	r.Recover(context.Background())
	if log.count("restart_service") != 0 {
		t.Error("service restarted with RestartService disabled")
	}
}

func TestRecoveryController_ContextCancelled(t *testing.T) {
	r, log, _ := newTestRecovery(&fakeScanner{scanErr: errRadio}, DefaultRecoveryPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if r.Recover(ctx) {
		t.Fatal("Recover() with cancelled context = true")
	}
	if log.count("scan") != 0 {
		t.Error("check scan ran after cancellation")
	}
	if r.State() != RecoveryFailed {
		t.Errorf("State() = %v, want failed", r.State())
	}
}

func TestRecoveryState_String(t *testing.T) {
	tests := map[RecoveryState]string{
		RecoveryIdle:       "idle",
		RecoveryRecovering: "recovering",
		RecoveryFailed:     "failed",
		RecoveryState(9):   "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
