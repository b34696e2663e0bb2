package bluez

import "errors"

var (
	// ErrAdapterNotFound is returned when the configured HCI adapter has no
	// BlueZ object.
	ErrAdapterNotFound = errors.New("bluetooth adapter not found")

	// ErrScanFailed is returned when discovery cannot be started or read.
	ErrScanFailed = errors.New("scan failed")

	// ErrCharacteristicNotFound is returned when a connected peripheral lacks
	// the requested service or characteristic.
	ErrCharacteristicNotFound = errors.New("characteristic not found")

	// ErrInvalidUUID is returned for a malformed service or characteristic UUID.
	ErrInvalidUUID = errors.New("invalid UUID")

	// ErrNoServiceBus is returned when a service restart is requested
	// without a system bus.
	ErrNoServiceBus = errors.New("no system bus for service control")
)
