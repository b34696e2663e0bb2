package ble

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-ble/internal/device"
)

var envServiceData = []byte{0xE7, 0xFE, 0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A}

func TestParseEntityKind(t *testing.T) {
	for _, k := range []EntityKind{EntitySwitch, EntityLight, EntityBinarySensor, EntitySensor} {
		if got, err := ParseEntityKind(string(k)); err != nil || got != k {
			t.Errorf("ParseEntityKind(%q) = %q, %v", k, got, err)
		}
	}
	if _, err := ParseEntityKind("fan"); !errors.Is(err, ErrInvalidEntity) {
		t.Errorf("ParseEntityKind(fan) error = %v, want ErrInvalidEntity", err)
	}
}

func TestNewEntity_DefaultPins(t *testing.T) {
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)

	tests := []struct {
		kind EntityKind
		want []int
	}{
		{EntitySwitch, []int{1, 2}},
		{EntityLight, []int{1}},
		{EntityBinarySensor, nil},
		{EntitySensor, nil},
	}
	for _, tt := range tests {
		got := NewEntity(tt.kind, d).Pins
		if len(got) != len(tt.want) {
			t.Errorf("%s pins = %v, want %v", tt.kind, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s pins = %v, want %v", tt.kind, got, tt.want)
			}
		}
	}
}

func TestEntity_IsOnThresholdAndStaleness(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)
	e := NewEntity(EntitySwitch, d)

	if e.IsOn(now) {
		t.Error("never-seen device reported on")
	}

	d.Touch(now)
	d.Decode(device.FieldServiceData, envServiceData)

	if !e.IsOn(now) {
		t.Error("IsOn() = false with major 0x0C02 above threshold 0")
	}

	e.Threshold = 0x0C02
	if e.IsOn(now) {
		t.Error("IsOn() = true with major equal to threshold")
	}

	e.Threshold = 0
	if e.IsOn(now.Add(device.DefaultStaleAfter + time.Second)) {
		t.Error("stale device reported on")
	}

	e.StaleAfter = time.Minute
	if e.IsOn(now.Add(2 * time.Minute)) {
		t.Error("custom stale threshold ignored")
	}
}

func TestEntity_Controllable(t *testing.T) {
	beacon := newTestDevice(t, "a", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)
	counter := newTestDevice(t, "b", "AA:BB:CC:DD:EE:02", device.ProtocolCC41A)

	if !NewEntity(EntitySwitch, beacon).Controllable() {
		t.Error("jdy08 switch should be controllable")
	}
	if NewEntity(EntityBinarySensor, beacon).Controllable() {
		t.Error("binary sensor should not be controllable")
	}
	if NewEntity(EntitySwitch, counter).Controllable() {
		t.Error("cc41a switch should not be controllable")
	}
}

func TestEntity_State(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)
	d.Touch(now)
	d.Decode(device.FieldServiceData, envServiceData)

	state := NewEntity(EntitySwitch, d).State(now)
	if state["on"] != true || state["stale"] != false {
		t.Errorf("switch state = %v", state)
	}
	if state["last_seen"] != "2026-03-01T08:00:00Z" {
		t.Errorf("last_seen = %v", state["last_seen"])
	}
	if state["battery"] != uint8(0x5A) {
		t.Errorf("battery = %v (%T)", state["battery"], state["battery"])
	}

	sensor := NewEntity(EntitySensor, d)
	sensor.Reading = "humidity"
	sensor.Unit = "%"
	state = sensor.State(now)
	if state["value"] != 0x14 || state["unit"] != "%" {
		t.Errorf("sensor state = %v", state)
	}
	if _, ok := state["on"]; ok {
		t.Error("sensor state should not carry on")
	}
}

func TestEntity_StateWhenNeverSeen(t *testing.T) {
	d := newTestDevice(t, "pump", "AA:BB:CC:DD:EE:01", device.ProtocolJDY08)
	state := NewEntity(EntityLight, d).State(time.Now())

	if state["stale"] != true || state["on"] != false {
		t.Errorf("state = %v, want stale and off", state)
	}
	if _, ok := state["last_seen"]; ok {
		t.Error("last_seen present for a device never seen")
	}
}

func TestReadingValue(t *testing.T) {
	tel := device.Telemetry{
		Major: 100, Minor: 200, Temperature: 21, Humidity: 40, Battery: 90,
		LatestValue: 1000, ValueHigh: 5, ValueLow: 7,
	}

	tests := []struct {
		protocol device.Protocol
		reading  string
		want     int
		ok       bool
	}{
		{device.ProtocolJDY08, "", 21, true},
		{device.ProtocolJDY08, "temperature", 21, true},
		{device.ProtocolJDY08, "humidity", 40, true},
		{device.ProtocolJDY08, "battery", 90, true},
		{device.ProtocolJDY08, "major", 100, true},
		{device.ProtocolJDY08, "minor", 200, true},
		{device.ProtocolJDY08, "value", 0, false},
		{device.ProtocolCC41A, "", 1000, true},
		{device.ProtocolCC41A, "value", 1000, true},
		{device.ProtocolCC41A, "humidity", 0, false},
		{device.ProtocolJDY10, "", 7, true},
		{device.ProtocolJDY10, "temperature", 7, true},
		{device.ProtocolJDY10, "pressure", 5, true},
		{device.ProtocolJDY10, "battery", 0, false},
	}
	for _, tt := range tests {
		got, ok := ReadingValue(tt.protocol, tt.reading, tel)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ReadingValue(%s, %q) = %d, %v; want %d, %v", tt.protocol, tt.reading, got, ok, tt.want, tt.ok)
		}
	}
}
