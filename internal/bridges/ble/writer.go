package ble

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Command frame layout: a fixed header, the pin selector and the level.
const (
	commandHeader  = 0xE7
	commandPinBase = 0xF0
	maxPin         = 0x0F
)

// EncodeCommand builds the output command for one pin.
func EncodeCommand(pin int, on bool) ([]byte, error) {
	if pin < 0 || pin > maxPin {
		return nil, fmt.Errorf("%w: %d (must be 0-%d)", ErrInvalidPin, pin, maxPin)
	}
	level := byte(0)
	if on {
		level = 1
	}
	return []byte{commandHeader, commandPinBase + byte(pin), level}, nil
}

// WriterPolicy is the retry policy for command writes.
type WriterPolicy struct {
	MaxAttempts    int
	Backoff        time.Duration
	ConnectTimeout time.Duration
	Endpoint       Endpoint
}

// NotifyPolicy is the collection policy for notification polls.
type NotifyPolicy struct {
	Attempts  int
	Timeout   time.Duration
	MaxEvents int
	MinValues int
	Endpoint  Endpoint
}

// WriteResult reports the outcome of a command write.
type WriteResult struct {
	Success  bool
	Attempts int
	Err      error
}

// PollResult reports the outcome of a notification poll.
type PollResult struct {
	Success  bool
	Attempts int
	Values   int
	Err      error
}

// CommandWriter sends output commands and polls counter devices over a
// connection.
//
// Both operations suspend scanning and take the RadioGuard for their whole
// duration. The suspend flag and the guard are released on every return
// path. With a DiscoveryPauser set, adapter discovery is also stopped once
// the guard is held, so the controller is not scanning while it connects.
type CommandWriter struct {
	connector Connector
	guard     *RadioGuard
	discovery DiscoveryPauser
	write     WriterPolicy
	notify    NotifyPolicy

	metrics MetricsRecorder
	events  EventRecorder
	logger  Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// NewCommandWriter creates a writer sharing guard with the discovery loop.
func NewCommandWriter(connector Connector, guard *RadioGuard, write WriterPolicy, notify NotifyPolicy) *CommandWriter {
	if write.MaxAttempts < 1 {
		write.MaxAttempts = 1
	}
	if notify.Attempts < 1 {
		notify.Attempts = 1
	}
	if notify.MaxEvents < 1 {
		notify.MaxEvents = 1
	}
	if notify.MinValues > notify.MaxEvents {
		notify.MinValues = notify.MaxEvents
	}
	return &CommandWriter{
		connector: connector,
		guard:     guard,
		write:     write,
		notify:    notify,
		logger:    noopLogger{},
		sleep:     sleepContext,
	}
}

// SetLogger sets the logger for the writer.
func (w *CommandWriter) SetLogger(logger Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetDiscovery sets the scanner whose discovery is paused while the writer
// holds the radio.
func (w *CommandWriter) SetDiscovery(p DiscoveryPauser) {
	w.discovery = p
}

// SetMetrics sets the optional metrics recorder.
func (w *CommandWriter) SetMetrics(m MetricsRecorder) {
	w.metrics = m
}

// SetEvents sets the optional event recorder.
func (w *CommandWriter) SetEvents(e EventRecorder) {
	w.events = e
}

// Write drives one output pin and reports whether any attempt succeeded.
func (w *CommandWriter) Write(ctx context.Context, d *device.Device, pin int, on bool) bool {
	return w.Execute(ctx, d, pin, on).Success
}

// Execute drives one output pin, retrying up to MaxAttempts times.
//
// Each attempt connects, writes and disconnects. Telemetry is not updated
// here; the device reports its new state in a later advertisement.
func (w *CommandWriter) Execute(ctx context.Context, d *device.Device, pin int, on bool) WriteResult {
	if d == nil || !d.Protocol().CanActuate() {
		return WriteResult{Err: device.ErrNotActuator}
	}
	payload, err := EncodeCommand(pin, on)
	if err != nil {
		return WriteResult{Err: err}
	}

	w.guard.Suspend()
	defer w.guard.Resume()
	w.guard.Acquire()
	defer w.guard.Release()
	w.pauseDiscovery(ctx)

	var lastErr error
	attempts := 0
	for attempts < w.write.MaxAttempts {
		if attempts > 0 && !w.sleep(ctx, w.write.Backoff) {
			break
		}
		attempts++
		lastErr = w.writeOnce(ctx, d.Address(), payload)
		if lastErr == nil {
			w.logger.Info("command written",
				"device_id", d.ID(),
				"pin", pin,
				"on", on,
				"attempts", attempts)
			w.recordCommand(d.ID(), attempts, true)
			return WriteResult{Success: true, Attempts: attempts}
		}
		w.logger.Debug("write attempt failed",
			"device_id", d.ID(),
			"attempt", attempts,
			"error", lastErr)
	}

	w.logger.Warn("command write failed",
		"device_id", d.ID(),
		"pin", pin,
		"attempts", attempts,
		"error", lastErr)
	w.recordCommand(d.ID(), attempts, false)
	w.recordEvent(ctx, EventWriteFailed, d.ID(), attempts)
	return WriteResult{
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrWriteFailed, attempts, lastErr),
	}
}

// pauseDiscovery stops adapter discovery. Caller holds the guard, so no
// scan pass is running; the next pass restarts discovery.
func (w *CommandWriter) pauseDiscovery(ctx context.Context) {
	if w.discovery == nil {
		return
	}
	if err := w.discovery.Pause(ctx); err != nil {
		w.logger.Debug("pausing discovery failed", "error", err)
	}
}

func (w *CommandWriter) writeOnce(ctx context.Context, addr device.HardwareAddress, payload []byte) error {
	conn, err := w.connect(ctx, addr, w.write.Endpoint)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck // disconnect errors do not change the write outcome

	if err := conn.Write(payload); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	return nil
}

func (w *CommandWriter) connect(ctx context.Context, addr device.HardwareAddress, ep Endpoint) (Connection, error) {
	connectCtx := ctx
	if w.write.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, w.write.ConnectTimeout)
		defer cancel()
	}
	conn, err := w.connector.Connect(connectCtx, addr, ep)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn, nil
}

// PollNotifications reads the counter value of a notify device and reports
// whether it was updated.
func (w *CommandWriter) PollNotifications(ctx context.Context, d *device.Device) bool {
	return w.Poll(ctx, d).Success
}

// Poll collects notifications from a counter device.
//
// Each attempt connects, subscribes and gathers values until MaxEvents have
// arrived or Timeout passes. An attempt with at least MinValues values
// succeeds and the latest value is applied to the device.
func (w *CommandWriter) Poll(ctx context.Context, d *device.Device) PollResult {
	if d == nil || !d.Protocol().NeedsPolling() {
		return PollResult{Err: fmt.Errorf("%w: polling needs a notify device", ErrUnsupportedCommand)}
	}

	w.guard.Suspend()
	defer w.guard.Resume()
	w.guard.Acquire()
	defer w.guard.Release()
	w.pauseDiscovery(ctx)

	var lastErr error
	attempts := 0
	for attempts < w.notify.Attempts {
		if attempts > 0 && !w.sleep(ctx, w.write.Backoff) {
			break
		}
		attempts++
		values, err := w.collect(ctx, d.Address())
		if err != nil {
			lastErr = err
			w.logger.Debug("poll attempt failed", "device_id", d.ID(), "attempt", attempts, "error", err)
			continue
		}
		if len(values) < w.notify.MinValues || len(values) == 0 {
			lastErr = fmt.Errorf("collected %d values, need %d", len(values), w.notify.MinValues)
			continue
		}

		d.ApplyNotification(values[len(values)-1])
		w.logger.Debug("notifications polled", "device_id", d.ID(), "values", len(values), "attempts", attempts)
		return PollResult{Success: true, Attempts: attempts, Values: len(values)}
	}

	w.logger.Warn("notification poll failed", "device_id", d.ID(), "attempts", attempts, "error", lastErr)
	w.recordEvent(ctx, EventPollFailed, d.ID(), attempts)
	return PollResult{
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrPollFailed, attempts, lastErr),
	}
}

// collect runs one subscribe-and-gather attempt.
func (w *CommandWriter) collect(ctx context.Context, addr device.HardwareAddress) ([][]byte, error) {
	conn, err := w.connect(ctx, addr, w.notify.Endpoint)
	if err != nil {
		return nil, err
	}
	defer conn.Close() //nolint:errcheck // disconnect errors do not change the poll outcome

	events := make(chan []byte, w.notify.MaxEvents)
	err = conn.Subscribe(func(p []byte) {
		v := make([]byte, len(p))
		copy(v, p)
		select {
		case events <- v:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing: %w", err)
	}

	waitCtx := ctx
	if w.notify.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.notify.Timeout)
		defer cancel()
	}

	values := make([][]byte, 0, w.notify.MaxEvents)
	for len(values) < w.notify.MaxEvents {
		select {
		case v := <-events:
			values = append(values, v)
		case <-waitCtx.Done():
			return values, nil
		}
	}
	return values, nil
}

func (w *CommandWriter) recordCommand(deviceID string, attempts int, ok bool) {
	if w.metrics != nil {
		w.metrics.RecordCommand(deviceID, attempts, ok)
	}
}

func (w *CommandWriter) recordEvent(ctx context.Context, kind, deviceID string, attempts int) {
	if w.events == nil {
		return
	}
	// The caller's context may already be cancelled; the record still matters.
	if err := w.events.RecordEvent(context.WithoutCancel(ctx), kind, deviceID, attemptsDetail(attempts)); err != nil {
		w.logger.Warn("failed to record radio event", "error", err)
	}
}
