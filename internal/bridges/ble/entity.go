package ble

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

// EntityKind is how a device is presented on the bus.
type EntityKind string

const (
	EntitySwitch       EntityKind = "switch"
	EntityLight        EntityKind = "light"
	EntityBinarySensor EntityKind = "binary_sensor"
	EntitySensor       EntityKind = "sensor"
)

// ParseEntityKind validates an entity kind string.
func ParseEntityKind(s string) (EntityKind, error) {
	switch k := EntityKind(s); k {
	case EntitySwitch, EntityLight, EntityBinarySensor, EntitySensor:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown entity kind %q", ErrInvalidEntity, s)
}

// defaultPins returns the output pins driven when none are configured.
func defaultPins(kind EntityKind) []int {
	switch kind {
	case EntitySwitch:
		return []int{1, 2}
	case EntityLight:
		return []int{1}
	}
	return nil
}

// Entity binds a device to its bus presentation.
type Entity struct {
	Kind      EntityKind
	Device    *device.Device
	Pins      []int
	Threshold int
	Reading   string
	Unit      string

	// StaleAfter overrides device.DefaultStaleAfter when positive.
	StaleAfter time.Duration
}

// NewEntity creates an entity and fills in default pins.
func NewEntity(kind EntityKind, d *device.Device) *Entity {
	return &Entity{
		Kind:   kind,
		Device: d,
		Pins:   defaultPins(kind),
	}
}

func (e *Entity) staleAfter() time.Duration {
	if e.StaleAfter > 0 {
		return e.StaleAfter
	}
	return device.DefaultStaleAfter
}

// Stale reports whether the underlying device has gone quiet.
func (e *Entity) Stale(now time.Time) bool {
	return e.Device.Stale(now, e.staleAfter())
}

// IsOn derives the on/off state from the major value. A stale device is off.
func (e *Entity) IsOn(now time.Time) bool {
	if e.Stale(now) {
		return false
	}
	return int(e.Device.Snapshot().Major) > e.Threshold
}

// Controllable reports whether commands can drive this entity's outputs.
func (e *Entity) Controllable() bool {
	return (e.Kind == EntitySwitch || e.Kind == EntityLight) && e.Device.Protocol().CanActuate()
}

// State builds the state map published for this entity.
func (e *Entity) State(now time.Time) map[string]any {
	snap := e.Device.Snapshot()
	stale := e.Stale(now)

	state := map[string]any{
		"stale": stale,
	}
	if !snap.LastSeenAt.IsZero() {
		state["last_seen"] = snap.LastSeenAt.UTC().Format(time.RFC3339)
	}

	switch e.Device.Protocol() {
	case device.ProtocolJDY08:
		state["major"] = snap.Major
		state["minor"] = snap.Minor
		state["temperature"] = snap.Temperature
		state["humidity"] = snap.Humidity
		state["battery"] = snap.Battery
	case device.ProtocolCC41A:
		state["major"] = snap.Major
		state["minor"] = snap.Minor
		state["value"] = snap.LatestValue
	case device.ProtocolJDY10:
		state["value_high"] = snap.ValueHigh
		state["value_low"] = snap.ValueLow
	}

	if e.Kind == EntitySensor {
		if v, ok := ReadingValue(e.Device.Protocol(), e.Reading, snap.Telemetry); ok {
			state["value"] = v
		}
		if e.Unit != "" {
			state["unit"] = e.Unit
		}
		return state
	}

	state["on"] = !stale && int(snap.Major) > e.Threshold
	return state
}

// ReadingValue selects one raw telemetry field by reading name.
// An empty reading picks the protocol's primary value.
func ReadingValue(p device.Protocol, reading string, t device.Telemetry) (int, bool) {
	switch p {
	case device.ProtocolJDY08:
		switch reading {
		case "", "temperature":
			return int(t.Temperature), true
		case "humidity":
			return int(t.Humidity), true
		case "battery":
			return int(t.Battery), true
		case "major":
			return int(t.Major), true
		case "minor":
			return int(t.Minor), true
		}
	case device.ProtocolCC41A:
		switch reading {
		case "", "value":
			return int(t.LatestValue), true
		}
	case device.ProtocolJDY10:
		switch reading {
		case "", "temperature":
			return int(t.ValueLow), true
		case "pressure":
			return int(t.ValueHigh), true
		}
	}
	return 0, false
}

// ValidReading reports whether reading names a field of protocol p.
func ValidReading(p device.Protocol, reading string) bool {
	_, ok := ReadingValue(p, reading, device.Telemetry{})
	return ok
}
