package ble

import (
	"sync"
	"sync/atomic"
)

// RadioGuard serialises access to the radio.
//
// The scan loop takes it with TryAcquire and skips its pass when busy.
// Writers take it with Acquire, raising the suspend flag first so that the
// loop stops competing for the radio until the write completes.
type RadioGuard struct {
	mu        sync.Mutex
	held      atomic.Int32
	suspended atomic.Int32
}

// NewRadioGuard returns an unheld guard.
func NewRadioGuard() *RadioGuard {
	return &RadioGuard{}
}

// TryAcquire takes the guard if it is free and scanning is not suspended.
func (g *RadioGuard) TryAcquire() bool {
	if g.suspended.Load() > 0 {
		return false
	}
	if !g.mu.TryLock() {
		return false
	}
	g.held.Add(1)
	return true
}

// Acquire blocks until the guard is taken.
func (g *RadioGuard) Acquire() {
	g.mu.Lock()
	g.held.Add(1)
}

// Release frees the guard. It must follow a successful Acquire or TryAcquire.
func (g *RadioGuard) Release() {
	g.held.Add(-1)
	g.mu.Unlock()
}

// Suspend raises the scanning-suspended flag. Calls nest.
func (g *RadioGuard) Suspend() {
	g.suspended.Add(1)
}

// Resume lowers one level of the scanning-suspended flag.
func (g *RadioGuard) Resume() {
	g.suspended.Add(-1)
}

// Suspended reports whether any writer is waiting for or using the radio.
func (g *RadioGuard) Suspended() bool {
	return g.suspended.Load() > 0
}

// Held returns how many holders the guard has (0 or 1).
func (g *RadioGuard) Held() int {
	return int(g.held.Load())
}
