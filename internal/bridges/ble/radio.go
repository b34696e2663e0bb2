package ble

import (
	"context"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// Scanner is the scanning half of the radio.
// It is implemented by bluez.Scanner in production and by fakes in tests.
type Scanner interface {
	// Scan listens for advertisements for d and returns one frame per
	// address heard, in the order the addresses were first seen.
	Scan(ctx context.Context, d time.Duration) ([]AdvertisementFrame, error)

	// Restart tears down and re-opens the scan session without touching
	// the adapter.
	Restart(ctx context.Context) error

	// Close releases the scan session. Later Scan calls fail.
	Close() error

	DiscoveryPauser
}

// DiscoveryPauser stops active discovery on the adapter. The next Scan
// starts it again.
type DiscoveryPauser interface {
	Pause(ctx context.Context) error
}

// AdapterController resets the host radio adapter.
type AdapterController interface {
	// Down powers the adapter off.
	Down(ctx context.Context) error

	// Up powers the adapter on.
	Up(ctx context.Context) error

	// RestartService asks the host to restart the Bluetooth service.
	// It must return without waiting for the restart to finish.
	RestartService(ctx context.Context) error
}

// Endpoint names the GATT service and characteristic a connection talks to.
type Endpoint struct {
	Service        string
	Characteristic string
}

// Connector opens point-to-point connections to devices.
type Connector interface {
	Connect(ctx context.Context, address device.HardwareAddress, ep Endpoint) (Connection, error)
}

// Connection is an open link to one characteristic.
type Connection interface {
	// Write sends a payload without waiting for a response.
	Write(payload []byte) error

	// Subscribe enables notifications. The handler may be called from
	// another goroutine and must not retain the slice.
	Subscribe(handler func([]byte)) error

	// Close disconnects. It is safe to call more than once.
	Close() error
}

// Logger defines the logging interface used by the bridge components.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder receives radio operation outcomes. It is optional;
// influxdb.Client satisfies it in production.
type MetricsRecorder interface {
	RecordScanPass(frames, matched int, d time.Duration, err error)
	RecordRecovery(attempts int, success bool, d time.Duration)
	RecordCommand(deviceID string, attempts int, success bool)
}

// EventRecorder persists notable radio events (recoveries, failed writes).
// It is optional; audit.Repository satisfies it via an adapter in main.
type EventRecorder interface {
	RecordEvent(ctx context.Context, kind, deviceID, detail string) error
}
