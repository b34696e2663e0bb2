package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateDevice is returned when registering a device ID twice.
	ErrDuplicateDevice = errors.New("device: duplicate id")

	// ErrInvalidDevice is returned when device construction parameters are incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrUnknownProtocol is returned when a protocol name is not recognised.
	ErrUnknownProtocol = errors.New("device: unknown protocol")

	// ErrInvalidAddress is returned when a hardware address cannot be parsed.
	ErrInvalidAddress = errors.New("device: invalid hardware address")

	// ErrNotActuator is returned when a command targets a device that cannot be written to.
	ErrNotActuator = errors.New("device: not an actuator")
)
