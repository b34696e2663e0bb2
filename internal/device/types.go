package device

import (
	"fmt"
	"sync"
	"time"
)

// Protocol identifies the payload layout a device speaks.
type Protocol string

// Supported device protocols.
const (
	// ProtocolJDY08 is an environmental beacon: temperature, humidity and
	// battery in service data, major/minor in service or manufacturer data.
	ProtocolJDY08 Protocol = "jdy08"

	// ProtocolCC41A is a notify counter: its value is only available over a
	// connection, as a two-byte notification.
	ProtocolCC41A Protocol = "cc41a"

	// ProtocolJDY10 is a compact beacon packing a 14-bit value into the
	// service class UUID list.
	ProtocolJDY10 Protocol = "jdy10"
)

// ParseProtocol converts a configuration string to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtocolJDY08, ProtocolCC41A, ProtocolJDY10:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// CanActuate reports whether devices of this protocol accept output commands.
func (p Protocol) CanActuate() bool {
	return p == ProtocolJDY08
}

// NeedsPolling reports whether telemetry must be fetched over a connection.
func (p Protocol) NeedsPolling() bool {
	return p == ProtocolCC41A
}

// FieldType is the AD type of one advertisement field.
type FieldType uint8

// Advertisement field types consumed by the decoders.
const (
	FieldServiceClassUUIDs FieldType = 0x02
	FieldLocalName         FieldType = 0x09
	FieldServiceData       FieldType = 0x16
	FieldManufacturerData  FieldType = 0xFF
)

// String returns a readable name for log output.
func (f FieldType) String() string {
	switch f {
	case FieldServiceClassUUIDs:
		return "service_class_uuids"
	case FieldLocalName:
		return "local_name"
	case FieldServiceData:
		return "service_data"
	case FieldManufacturerData:
		return "manufacturer_data"
	default:
		return fmt.Sprintf("0x%02x", uint8(f))
	}
}

// Telemetry holds decoded values. Which fields are meaningful depends on
// the protocol:
//   - jdy08: Major, Minor, Temperature, Humidity, Battery
//   - cc41a: LatestValue, and Major/Minor from manufacturer data
//   - jdy10: ValueHigh, ValueLow
type Telemetry struct {
	Major       uint16 `json:"major"`
	Minor       uint16 `json:"minor"`
	Temperature uint8  `json:"temperature"`
	Humidity    uint8  `json:"humidity"`
	Battery     uint8  `json:"battery"`
	LatestValue uint16 `json:"latest_value"`
	ValueHigh   uint8  `json:"value_high"`
	ValueLow    uint8  `json:"value_low"`
}

// Snapshot is a consistent read of a device's telemetry and freshness.
type Snapshot struct {
	Telemetry
	LastSeenAt time.Time `json:"last_seen_at"`
	Decodes    uint64    `json:"decodes"`
}

// DefaultStaleAfter is how long a device may go unseen before it is stale.
const DefaultStaleAfter = 600 * time.Second

// Observer is called after telemetry changes. It runs on the goroutine that
// decoded the frame and must not block for long.
type Observer func(*Device)

// Device is one logical device bound to a hardware address.
//
// Devices are created once from configuration and live for the process
// lifetime. Several devices may share an address (for example a switch and a
// temperature sensor on the same module).
//
// All methods are safe for concurrent use.
type Device struct {
	id       string
	name     string
	address  HardwareAddress
	protocol Protocol

	mu        sync.RWMutex
	telemetry Telemetry
	lastSeen  time.Time
	decodes   uint64
	observer  Observer
}

// New creates a device. The address must already be normalised.
func New(id, name string, address HardwareAddress, protocol Protocol) (*Device, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if address.IsZero() {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidDevice)
	}
	if _, err := ParseProtocol(string(protocol)); err != nil {
		return nil, err
	}
	if name == "" {
		name = id
	}
	return &Device{
		id:       id,
		name:     name,
		address:  address,
		protocol: protocol,
	}, nil
}

// ID returns the logical identifier.
func (d *Device) ID() string { return d.id }
func (d *Device) Name() string { return d.name }
func (d *Device) Address() HardwareAddress { return d.address }
func (d *Device) Protocol() Protocol { return d.protocol }

// SetObserver installs the change callback. Passing nil removes it.
func (d *Device) SetObserver(fn Observer) {
	d.mu.Lock()
	d.observer = fn
	d.mu.Unlock()
}

// Touch records that a frame from this device was received at t,
// whether or not anything in it decodes.
func (d *Device) Touch(t time.Time) {
	d.mu.Lock()
	if t.After(d.lastSeen) {
		d.lastSeen = t
	}
	d.mu.Unlock()
}

// LastSeen returns the time of the most recent attributed frame.
// The zero time means the device has never been seen.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Stale reports whether the device has been silent for longer than after.
// A device that has never been seen is stale.
func (d *Device) Stale(now time.Time, after time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lastSeen.IsZero() {
		return true
	}
	return now.Sub(d.lastSeen) > after
}

// Snapshot returns a copy of the current telemetry.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		Telemetry:  d.telemetry,
		LastSeenAt: d.lastSeen,
		Decodes:    d.decodes,
	}
}

// Decode applies one advertisement field to the device.
//
// Fields the protocol does not use are ignored. Payloads too short for a
// field group leave that group untouched. The observer is notified once
// when at least one group was assigned.
//
// Returns true if telemetry was updated.
func (d *Device) Decode(field FieldType, payload []byte) bool {
	var decode decoder
	switch field {
	case FieldServiceData:
		if d.protocol == ProtocolJDY08 {
			decode = DecodeEnvironmentalServiceData
		}
	case FieldManufacturerData:
		if d.protocol == ProtocolJDY08 || d.protocol == ProtocolCC41A {
			decode = DecodeEnvironmentalManufacturerData
		}
	case FieldServiceClassUUIDs:
		if d.protocol == ProtocolJDY10 {
			decode = DecodeCompactServiceClass
		}
	}
	if decode == nil {
		return false
	}
	return d.apply(decode, payload)
}

// ApplyNotification applies a connection notification from a notify
// counter device. Other protocols ignore it.
func (d *Device) ApplyNotification(payload []byte) bool {
	if d.protocol != ProtocolCC41A {
		return false
	}
	return d.apply(DecodeCounterNotification, payload)
}

func (d *Device) apply(decode decoder, payload []byte) bool {
	d.mu.Lock()
	next, ok := decode(d.telemetry, payload)
	if ok {
		d.telemetry = next
		d.decodes++
	}
	observer := d.observer
	d.mu.Unlock()

	if ok && observer != nil {
		observer(d)
	}
	return ok
}
