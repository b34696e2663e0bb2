package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

var errRadio = errors.New("radio fault")

// fakeScanner is a scriptable Scanner.
type fakeScanner struct {
	mu         sync.Mutex
	frames     []AdvertisementFrame
	scanErr    error
	restartErr error
	scanFn     func(ctx context.Context) ([]AdvertisementFrame, error)

	scans       int
	restarts    int
	closes      int
	pauses      int
	discovering bool
	log         *callLog
}

func (s *fakeScanner) Scan(ctx context.Context, _ time.Duration) ([]AdvertisementFrame, error) {
	s.mu.Lock()
	s.scans++
	s.discovering = true
	fn, frames, err, log := s.scanFn, s.frames, s.scanErr, s.log
	s.mu.Unlock()

	if log != nil {
		log.add("scan")
	}
	if fn != nil {
		return fn(ctx)
	}
	return frames, err
}

func (s *fakeScanner) Restart(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts++
	return s.restartErr
}

func (s *fakeScanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeScanner) Pause(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauses++
	s.discovering = false
	return nil
}

func (s *fakeScanner) isDiscovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discovering
}

func (s *fakeScanner) counts() (scans, restarts, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scans, s.restarts, s.closes
}

// callLog records adapter and check-scan calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

// fakeAdapter records every control call.
type fakeAdapter struct {
	log *callLog
	err error
}

func (a *fakeAdapter) Down(context.Context) error {
	a.log.add("down")
	return a.err
}

func (a *fakeAdapter) Up(context.Context) error {
	a.log.add("up")
	return a.err
}

func (a *fakeAdapter) RestartService(context.Context) error {
	a.log.add("restart_service")
	return a.err
}

// fakeConnector hands out fakeConnections and records what they saw.
type fakeConnector struct {
	mu sync.Mutex

	// failConnects makes the first n Connect calls fail; -1 fails all.
	failConnects int
	writeErr     error

	// notifications are delivered synchronously on Subscribe.
	notifications [][]byte

	// beforeConnect, when set, runs at the start of every Connect.
	beforeConnect func()

	connects  int
	closes    int
	writes    [][]byte
	endpoints []Endpoint
}

func (c *fakeConnector) Connect(ctx context.Context, _ device.HardwareAddress, ep Endpoint) (Connection, error) {
	if c.beforeConnect != nil {
		c.beforeConnect()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	c.endpoints = append(c.endpoints, ep)
	if c.failConnects < 0 || c.connects <= c.failConnects {
		return nil, errRadio
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fakeConnection{parent: c}, nil
}

func (c *fakeConnector) stats() (connects, closes int, writes [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects, c.closes, append([][]byte(nil), c.writes...)
}

type fakeConnection struct {
	parent *fakeConnector
	closed bool
}

func (f *fakeConnection) Write(p []byte) error {
	f.parent.mu.Lock()
	defer f.parent.mu.Unlock()
	if f.parent.writeErr != nil {
		return f.parent.writeErr
	}
	f.parent.writes = append(f.parent.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeConnection) Subscribe(handler func([]byte)) error {
	f.parent.mu.Lock()
	values := f.parent.notifications
	f.parent.mu.Unlock()
	for _, v := range values {
		handler(v)
	}
	return nil
}

func (f *fakeConnection) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.parent.mu.Lock()
	f.parent.closes++
	f.parent.mu.Unlock()
	return nil
}

// fakeMetrics records radio metrics.
type fakeMetrics struct {
	mu         sync.Mutex
	passes     int
	recoveries []bool
	commands   []int
}

func (m *fakeMetrics) RecordScanPass(int, int, time.Duration, error) {
	m.mu.Lock()
	m.passes++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordRecovery(_ int, ok bool, _ time.Duration) {
	m.mu.Lock()
	m.recoveries = append(m.recoveries, ok)
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordCommand(_ string, attempts int, _ bool) {
	m.mu.Lock()
	m.commands = append(m.commands, attempts)
	m.mu.Unlock()
}

// fakeEvents records radio events.
type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (e *fakeEvents) RecordEvent(_ context.Context, kind, _, _ string) error {
	e.mu.Lock()
	e.kinds = append(e.kinds, kind)
	e.mu.Unlock()
	return nil
}

// noSleep replaces backoff waits in tests.
func noSleep(ctx context.Context, _ time.Duration) bool {
	return ctx.Err() == nil
}

func newTestDevice(t testing.TB, id, addr string, p device.Protocol) *device.Device {
	t.Helper()
	d, err := device.New(id, "", device.MustParseAddress(addr), p)
	if err != nil {
		t.Fatalf("device.New(%q) error = %v", id, err)
	}
	return d
}

func newTestRegistry(t testing.TB, devices ...*device.Device) *device.Registry {
	t.Helper()
	reg := device.NewRegistry()
	for _, d := range devices {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID(), err)
		}
	}
	return reg
}

func newTestWriter(c Connector, g *RadioGuard) *CommandWriter {
	w := NewCommandWriter(c, g,
		WriterPolicy{MaxAttempts: 5, Backoff: 500 * time.Millisecond, Endpoint: Endpoint{"ffe0", "ffe1"}},
		NotifyPolicy{Attempts: 3, Timeout: 50 * time.Millisecond, MaxEvents: 3, MinValues: 2, Endpoint: Endpoint{"ffe0", "ffe1"}},
	)
	w.sleep = noSleep
	return w
}

// serviceDataFrame is a full environmental frame: service UUID prefix, then
// 0A 1B 00 05 0C 02 14 5A.
func serviceDataFrame(addr string, at time.Time) AdvertisementFrame {
	return AdvertisementFrame{
		Address: device.MustParseAddress(addr),
		Fields: []Field{
			{Type: device.FieldLocalName, Payload: []byte("JDY-08")},
			{Type: device.FieldServiceData, Payload: []byte{0xE7, 0xFE, 0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A}},
		},
		ReceivedAt: at,
	}
}
