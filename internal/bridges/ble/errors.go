package ble

import "errors"

// Domain errors for the BLE bridge package.
var (
	// ErrRadioBusy is returned when the radio is held by another operation
	// and the caller asked not to wait.
	ErrRadioBusy = errors.New("ble: radio busy")

	// ErrNotRunning is returned when the discovery loop has been stopped.
	ErrNotRunning = errors.New("ble: discovery loop not running")

	// ErrInvalidCommand is returned when a command message cannot be parsed
	// or names an unknown device.
	ErrInvalidCommand = errors.New("ble: invalid command")

	// ErrUnsupportedCommand is returned when a command is valid but the
	// target entity cannot perform it.
	ErrUnsupportedCommand = errors.New("ble: unsupported command")

	// ErrInvalidEntity is returned when an entity definition is inconsistent
	// with its device.
	ErrInvalidEntity = errors.New("ble: invalid entity")

	// ErrInvalidPin is returned when a pin number does not fit the
	// command encoding.
	ErrInvalidPin = errors.New("ble: invalid pin")

	// ErrWriteFailed is returned when every write attempt failed.
	ErrWriteFailed = errors.New("ble: write failed")

	// ErrPollFailed is returned when no poll attempt collected enough values.
	ErrPollFailed = errors.New("ble: notification poll failed")
)
