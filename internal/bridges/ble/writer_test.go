package ble

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		pin     int
		on      bool
		want    []byte
		wantErr bool
	}{
		{pin: 1, on: true, want: []byte{0xE7, 0xF1, 0x01}},
		{pin: 2, on: false, want: []byte{0xE7, 0xF2, 0x00}},
		{pin: 0, on: true, want: []byte{0xE7, 0xF0, 0x01}},
		{pin: 15, on: true, want: []byte{0xE7, 0xFF, 0x01}},
		{pin: 16, on: true, wantErr: true},
		{pin: -1, on: true, wantErr: true},
	}

	for _, tt := range tests {
		got, err := EncodeCommand(tt.pin, tt.on)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPin) {
				t.Errorf("EncodeCommand(%d) error = %v, want ErrInvalidPin", tt.pin, err)
			}
			continue
		}
		if err != nil || !bytes.Equal(got, tt.want) {
			t.Errorf("EncodeCommand(%d, %v) = % X, %v; want % X", tt.pin, tt.on, got, err, tt.want)
		}
	}
}

func TestCommandWriter_WriteSucceeds(t *testing.T) {
	conn := &fakeConnector{}
	guard := NewRadioGuard()
	w := newTestWriter(conn, guard)
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)
	before := d.Snapshot()

	if !w.Write(context.Background(), d, 1, true) {
		t.Fatal("Write() = false, want true")
	}
	connects, closes, writes := conn.stats()
	if connects != 1 || closes != 1 {
		t.Errorf("connects/closes = %d/%d, want 1/1", connects, closes)
	}
	if len(writes) != 1 || !bytes.Equal(writes[0], []byte{0xE7, 0xF1, 0x01}) {
		t.Errorf("writes = % X", writes)
	}
	if d.Snapshot() != before {
		t.Error("a write must not change telemetry locally")
	}
}

func TestCommandWriter_RetriesThenFails(t *testing.T) {
	conn := &fakeConnector{failConnects: -1}
	guard := NewRadioGuard()
	metrics := &fakeMetrics{}
	events := &fakeEvents{}
	w := newTestWriter(conn, guard)
	w.SetMetrics(metrics)
	w.SetEvents(events)

	var backoffs []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) bool {
		backoffs = append(backoffs, d)
		return true
	}

	res := w.Execute(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 1, true)
	if res.Success {
		t.Fatal("Execute() succeeded with a failing connector")
	}
	if res.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", res.Attempts)
	}
	if connects, _, _ := conn.stats(); connects != 5 {
		t.Errorf("connects = %d, want exactly 5", connects)
	}
	if len(backoffs) != 4 || backoffs[0] != 500*time.Millisecond {
		t.Errorf("backoffs = %v, want four waits of 500ms", backoffs)
	}
	if !errors.Is(res.Err, ErrWriteFailed) || !errors.Is(res.Err, errRadio) {
		t.Errorf("Err = %v, want ErrWriteFailed wrapping the radio error", res.Err)
	}
	if guard.Held() != 0 || guard.Suspended() {
		t.Errorf("guard held=%d suspended=%v after failed write", guard.Held(), guard.Suspended())
	}
	if len(metrics.commands) != 1 || metrics.commands[0] != 5 {
		t.Errorf("recorded commands = %v", metrics.commands)
	}
	if len(events.kinds) != 1 || events.kinds[0] != EventWriteFailed {
		t.Errorf("events = %v", events.kinds)
	}
}

func TestCommandWriter_RecoversOnLaterAttempt(t *testing.T) {
	conn := &fakeConnector{failConnects: 2}
	w := newTestWriter(conn, NewRadioGuard())

	res := w.Execute(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 2, false)
	if !res.Success || res.Attempts != 3 {
		t.Errorf("Execute() = %+v, want success on attempt 3", res)
	}
}

func TestCommandWriter_WriteErrorClosesConnection(t *testing.T) {
	conn := &fakeConnector{writeErr: errRadio}
	w := newTestWriter(conn, NewRadioGuard())

	w.Write(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 1, true)
	connects, closes, _ := conn.stats()
	if connects != 5 || closes != 5 {
		t.Errorf("connects/closes = %d/%d, want 5/5", connects, closes)
	}
}

func TestCommandWriter_NonActuatorNeverTouchesRadio(t *testing.T) {
	conn := &fakeConnector{}
	guard := NewRadioGuard()
	w := newTestWriter(conn, guard)

	for _, p := range []device.Protocol{device.ProtocolCC41A, device.ProtocolJDY10} {
		res := w.Execute(context.Background(), newTestDevice(t, "x", "AA:BB:CC:DD:EE:01", p), 1, true)
		if res.Success || !errors.Is(res.Err, device.ErrNotActuator) {
			t.Errorf("%s: Execute() = %+v, want ErrNotActuator", p, res)
		}
	}
	if connects, _, _ := conn.stats(); connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
	if guard.Suspended() {
		t.Error("scanning suspended by a rejected write")
	}
}

func TestCommandWriter_InvalidPin(t *testing.T) {
	conn := &fakeConnector{}
	w := newTestWriter(conn, NewRadioGuard())

	res := w.Execute(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 16, true)
	if !errors.Is(res.Err, ErrInvalidPin) {
		t.Errorf("Err = %v, want ErrInvalidPin", res.Err)
	}
	if connects, _, _ := conn.stats(); connects != 0 {
		t.Error("radio touched for an invalid pin")
	}
}

func TestCommandWriter_WaitsForRadioAndSuspendsScanning(t *testing.T) {
	conn := &fakeConnector{}
	guard := NewRadioGuard()
	w := newTestWriter(conn, guard)
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)

	// The scan loop holds the radio.
	if !guard.TryAcquire() {
		t.Fatal("TryAcquire() failed")
	}

	done := make(chan bool)
	go func() { done <- w.Write(context.Background(), d, 1, true) }()

	deadline := time.After(time.Second)
	for !guard.Suspended() {
		select {
		case <-deadline:
			t.Fatal("writer never suspended scanning")
		case <-time.After(time.Millisecond):
		}
	}
	if guard.TryAcquire() {
		t.Fatal("scan loop acquired the radio while a writer waits")
	}
	if connects, _, _ := conn.stats(); connects != 0 {
		t.Fatal("writer connected while the radio was held")
	}

	guard.Release()
	if !<-done {
		t.Error("Write() = false after the radio was released")
	}
	if guard.Suspended() || guard.Held() != 0 {
		t.Error("guard not fully released after write")
	}
}

func TestCommandWriter_PausesDiscoveryWhileConnected(t *testing.T) {
	scanner := &fakeScanner{}
	conn := &fakeConnector{}
	w := newTestWriter(conn, NewRadioGuard())
	w.SetDiscovery(scanner)

	// A scan pass leaves the adapter discovering.
	if _, err := scanner.Scan(context.Background(), time.Second); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	var discoveringAtConnect []bool
	conn.beforeConnect = func() {
		discoveringAtConnect = append(discoveringAtConnect, scanner.isDiscovering())
	}

	if !w.Write(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 1, true) {
		t.Fatal("Write() = false")
	}
	conn.notifications = [][]byte{{0x00, 0x01}, {0x00, 0x02}}
	if !w.Poll(context.Background(), newTestDevice(t, "soil", "AA:BB:CC:DD:EE:02", device.ProtocolCC41A)).Success {
		t.Fatal("Poll() failed")
	}

	if len(discoveringAtConnect) != 2 {
		t.Fatalf("connects = %d, want 2", len(discoveringAtConnect))
	}
	for i, discovering := range discoveringAtConnect {
		if discovering {
			t.Errorf("connect %d ran while the adapter was discovering", i)
		}
	}
	if scanner.pauses != 2 {
		t.Errorf("pauses = %d, want 2", scanner.pauses)
	}
}

func TestCommandWriter_PollBacksOffBetweenAttempts(t *testing.T) {
	conn := &fakeConnector{failConnects: -1}
	w := newTestWriter(conn, NewRadioGuard())

	var waits []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return true
	}

	res := w.Poll(context.Background(), newTestDevice(t, "soil", "AA:BB:CC:DD:EE:02", device.ProtocolCC41A))
	if res.Success || res.Attempts != 3 {
		t.Fatalf("Poll() = %+v, want 3 failed attempts", res)
	}
	if len(waits) != 2 || waits[0] != 500*time.Millisecond || waits[1] != 500*time.Millisecond {
		t.Errorf("backoff waits = %v, want two of 500ms", waits)
	}
}

func TestCommandWriter_ContextCancelledStopsRetries(t *testing.T) {
	conn := &fakeConnector{failConnects: -1}
	w := newTestWriter(conn, NewRadioGuard())
	w.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := w.Execute(ctx, newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08), 1, true)
	if res.Success || res.Attempts != 1 {
		t.Errorf("Execute() = %+v, want a single failed attempt", res)
	}
}

func TestCommandWriter_PollAppliesLatestValue(t *testing.T) {
	conn := &fakeConnector{notifications: [][]byte{{0x00, 0x10}, {0x01, 0x00}, {0x03, 0xE8}}}
	guard := NewRadioGuard()
	w := newTestWriter(conn, guard)
	d := newTestDevice(t, "soil", "AA:BB:CC:DD:EE:02", device.ProtocolCC41A)

	notified := 0
	d.SetObserver(func(*device.Device) { notified++ })

	res := w.Poll(context.Background(), d)
	if !res.Success || res.Attempts != 1 || res.Values != 3 {
		t.Fatalf("Poll() = %+v", res)
	}
	if got := d.Snapshot().LatestValue; got != 1000 {
		t.Errorf("LatestValue = %d, want 1000", got)
	}
	if notified != 1 {
		t.Errorf("observer calls = %d, want 1", notified)
	}
	if guard.Held() != 0 || guard.Suspended() {
		t.Error("guard not released after poll")
	}
}

func TestCommandWriter_PollNeedsMinimumValues(t *testing.T) {
	conn := &fakeConnector{notifications: [][]byte{{0x00, 0x10}}}
	events := &fakeEvents{}
	w := newTestWriter(conn, NewRadioGuard())
	w.SetEvents(events)
	d := newTestDevice(t, "soil", "AA:BB:CC:DD:EE:02", device.ProtocolCC41A)

	res := w.Poll(context.Background(), d)
	if res.Success {
		t.Fatal("Poll() succeeded with a single value")
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
	if !errors.Is(res.Err, ErrPollFailed) {
		t.Errorf("Err = %v, want ErrPollFailed", res.Err)
	}
	if d.Snapshot().LatestValue != 0 {
		t.Error("failed poll changed telemetry")
	}
	if len(events.kinds) != 1 || events.kinds[0] != EventPollFailed {
		t.Errorf("events = %v", events.kinds)
	}
}

func TestCommandWriter_PollRejectsNonNotifyDevice(t *testing.T) {
	conn := &fakeConnector{}
	w := newTestWriter(conn, NewRadioGuard())

	if w.PollNotifications(context.Background(), newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)) {
		t.Error("PollNotifications() on jdy08 = true")
	}
	if connects, _, _ := conn.stats(); connects != 0 {
		t.Error("radio touched for a non-notify device")
	}
}

func TestNewCommandWriter_ClampsPolicy(t *testing.T) {
	w := NewCommandWriter(&fakeConnector{}, NewRadioGuard(),
		WriterPolicy{MaxAttempts: 0},
		NotifyPolicy{Attempts: 0, MaxEvents: 2, MinValues: 5})

	if w.write.MaxAttempts != 1 || w.notify.Attempts != 1 {
		t.Errorf("attempts = %d/%d, want 1/1", w.write.MaxAttempts, w.notify.Attempts)
	}
	if w.notify.MinValues != 2 {
		t.Errorf("MinValues = %d, want clamped to MaxEvents 2", w.notify.MinValues)
	}
}
