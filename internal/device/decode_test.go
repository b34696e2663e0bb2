package device

import (
	"testing"
	"time"
)

// serviceDataPrefix is the little-endian 16-bit service UUID that opens a
// service data field.
var serviceDataPrefix = []byte{0xE7, 0xFE}

func withPrefix(data ...byte) []byte {
	return append(append([]byte{}, serviceDataPrefix...), data...)
}

func TestDecodeEnvironmentalServiceData_FullFrame(t *testing.T) {
	// Data segments 0A 1B 00 05 0C 02 14 5A behind the service UUID.
	payload := withPrefix(0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A)

	got, ok := DecodeEnvironmentalServiceData(Telemetry{}, payload)
	if !ok {
		t.Fatal("DecodeEnvironmentalServiceData() ok = false, want true")
	}

	want := Telemetry{
		Major:       0x0C02,
		Minor:       0x145A,
		Temperature: 0x02,
		Humidity:    0x14,
		Battery:     0x5A,
	}
	if got != want {
		t.Errorf("DecodeEnvironmentalServiceData() = %+v, want %+v", got, want)
	}
}

func TestDecodeEnvironmentalServiceData_ShortWordsKeepMajorMinor(t *testing.T) {
	prior := Telemetry{Major: 7, Minor: 9}
	// Eight bytes are four words: enough for the byte group only.
	payload := []byte{0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A}

	got, ok := DecodeEnvironmentalServiceData(prior, payload)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if got.Major != 7 || got.Minor != 9 {
		t.Errorf("major/minor = %d/%d, want untouched 7/9", got.Major, got.Minor)
	}
	if got.Temperature != 0x02 || got.Humidity != 0x14 || got.Battery != 0x5A {
		t.Errorf("temperature/humidity/battery = %d/%d/%d, want 2/20/90", got.Temperature, got.Humidity, got.Battery)
	}
}

func TestDecoders_ShortInputLeavesTelemetryUnchanged(t *testing.T) {
	prior := Telemetry{
		Major: 1, Minor: 2, Temperature: 3, Humidity: 4, Battery: 5,
		LatestValue: 6, ValueHigh: 7, ValueLow: 8,
	}

	tests := []struct {
		name   string
		decode decoder
		max    int // longest payload still below the threshold
	}{
		{name: "service data", decode: DecodeEnvironmentalServiceData, max: 2},
		{name: "manufacturer data", decode: DecodeEnvironmentalManufacturerData, max: 23},
		{name: "service class", decode: DecodeCompactServiceClass, max: 1},
		{name: "notification", decode: DecodeCounterNotification, max: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for n := 0; n <= tt.max; n++ {
				payload := make([]byte, n)
				for i := range payload {
					payload[i] = 0xFF
				}
				got, ok := tt.decode(prior, payload)
				if ok {
					t.Errorf("len %d: ok = true, want false", n)
				}
				if got != prior {
					t.Errorf("len %d: telemetry = %+v, want unchanged %+v", n, got, prior)
				}
			}
		})
	}
}

func TestDecodeEnvironmentalServiceData_BatteryIsLastByte(t *testing.T) {
	for n := 3; n <= 16; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*17 + n)
		}
		got, _ := DecodeEnvironmentalServiceData(Telemetry{}, payload)
		if got.Battery != payload[n-1] {
			t.Errorf("len %d: battery = %d, want %d", n, got.Battery, payload[n-1])
		}
	}
}

func TestDecodeEnvironmentalManufacturerData(t *testing.T) {
	// iBeacon: company 0x004C, type 0x02, length 0x15, 16-byte UUID,
	// major 0x0102, minor 0x0304, tx power.
	payload := []byte{
		0x4C, 0x00, 0x02, 0x15,
		0xFD, 0xA5, 0x06, 0x93, 0xA4, 0xE2, 0x4F, 0xB1,
		0xAF, 0xCF, 0xC6, 0xEB, 0x07, 0x64, 0x78, 0x25,
		0x01, 0x02, 0x03, 0x04, 0xC5,
	}

	got, ok := DecodeEnvironmentalManufacturerData(Telemetry{Temperature: 21}, payload)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if got.Major != 0x0102 || got.Minor != 0x0304 {
		t.Errorf("major/minor = %#04x/%#04x, want 0x0102/0x0304", got.Major, got.Minor)
	}
	if got.Temperature != 21 {
		t.Errorf("temperature = %d, want untouched 21", got.Temperature)
	}
}

func TestDecodeCompactServiceClass_RoundTrip(t *testing.T) {
	for value := 0; value <= 0x3FFF; value++ {
		payload := []byte{byte(value), byte(value >> 8)}
		got, ok := DecodeCompactServiceClass(Telemetry{}, payload)
		if !ok {
			t.Fatalf("value %#x: ok = false", value)
		}
		if rebuilt := int(got.ValueHigh)<<6 | int(got.ValueLow); rebuilt != value {
			t.Fatalf("value %#x: rebuilt %#x from high=%d low=%d", value, rebuilt, got.ValueHigh, got.ValueLow)
		}
		if got.ValueLow > 0x3F {
			t.Fatalf("value %#x: low = %d exceeds 6 bits", value, got.ValueLow)
		}
	}
}

func TestDecodeCompactServiceClass_IgnoresBitsAbove14(t *testing.T) {
	// 0xC000 set on top of 0x1234.
	got, ok := DecodeCompactServiceClass(Telemetry{}, []byte{0x34, 0xD2})
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if rebuilt := int(got.ValueHigh)<<6 | int(got.ValueLow); rebuilt != 0x1234 {
		t.Errorf("rebuilt = %#x, want 0x1234", rebuilt)
	}
	if got.ValueHigh != 0x48 || got.ValueLow != 0x34 {
		t.Errorf("high/low = %#x/%#x, want 0x48/0x34", got.ValueHigh, got.ValueLow)
	}
}

func TestDecodeCounterNotification(t *testing.T) {
	got, ok := DecodeCounterNotification(Telemetry{}, []byte{0x03, 0xE8, 0xFF})
	if !ok {
		t.Fatal("ok = false, want true")
	}
	if got.LatestValue != 1000 {
		t.Errorf("LatestValue = %d, want 1000", got.LatestValue)
	}
}

func TestDevice_DecodeRoutesByProtocol(t *testing.T) {
	serviceData := withPrefix(0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A)
	serviceClass := []byte{0x34, 0x12}

	tests := []struct {
		name     string
		protocol Protocol
		field    FieldType
		payload  []byte
		want     bool
	}{
		{"jdy08 service data", ProtocolJDY08, FieldServiceData, serviceData, true},
		{"jdy08 service class ignored", ProtocolJDY08, FieldServiceClassUUIDs, serviceClass, false},
		{"jdy10 service class", ProtocolJDY10, FieldServiceClassUUIDs, serviceClass, true},
		{"jdy10 service data ignored", ProtocolJDY10, FieldServiceData, serviceData, false},
		{"cc41a service data ignored", ProtocolCC41A, FieldServiceData, serviceData, false},
		{"local name ignored", ProtocolJDY08, FieldLocalName, []byte("JDY-08"), false},
		{"unknown field ignored", ProtocolJDY08, FieldType(0x01), []byte{0x06}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := mustDevice(t, "dev", "AA:BB:CC:DD:EE:FF", tt.protocol)
			if got := d.Decode(tt.field, tt.payload); got != tt.want {
				t.Errorf("Decode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDevice_ObserverCalledOncePerDecode(t *testing.T) {
	d := mustDevice(t, "dev", "AA:BB:CC:DD:EE:FF", ProtocolJDY08)

	calls := 0
	d.SetObserver(func(got *Device) {
		calls++
		if got != d {
			t.Error("observer received a different device")
		}
	})

	// Both field groups change, still one notification.
	d.Decode(FieldServiceData, withPrefix(0x0A, 0x1B, 0x00, 0x05, 0x0C, 0x02, 0x14, 0x5A))
	if calls != 1 {
		t.Errorf("observer calls = %d, want 1", calls)
	}

	// Short payload: no notification.
	d.Decode(FieldServiceData, []byte{0x01})
	if calls != 1 {
		t.Errorf("observer calls after short payload = %d, want 1", calls)
	}
}

func TestDevice_ApplyNotification(t *testing.T) {
	counter := mustDevice(t, "soil", "AA:BB:CC:DD:EE:FF", ProtocolCC41A)
	if !counter.ApplyNotification([]byte{0x01, 0x00}) {
		t.Fatal("ApplyNotification() = false, want true")
	}
	if got := counter.Snapshot().LatestValue; got != 256 {
		t.Errorf("LatestValue = %d, want 256", got)
	}

	beacon := mustDevice(t, "beacon", "AA:BB:CC:DD:EE:FF", ProtocolJDY08)
	if beacon.ApplyNotification([]byte{0x01, 0x00}) {
		t.Error("ApplyNotification() on jdy08 = true, want false")
	}
}

func TestDevice_TouchAndStale(t *testing.T) {
	d := mustDevice(t, "dev", "AA:BB:CC:DD:EE:FF", ProtocolJDY08)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !d.Stale(now, DefaultStaleAfter) {
		t.Error("never-seen device should be stale")
	}

	d.Touch(now)
	if d.Stale(now.Add(DefaultStaleAfter), DefaultStaleAfter) {
		t.Error("device seen exactly DefaultStaleAfter ago should not be stale")
	}
	if !d.Stale(now.Add(DefaultStaleAfter+time.Second), DefaultStaleAfter) {
		t.Error("device seen more than DefaultStaleAfter ago should be stale")
	}

	// An older timestamp never moves LastSeen backwards.
	d.Touch(now.Add(-time.Minute))
	if !d.LastSeen().Equal(now) {
		t.Errorf("LastSeen() = %v, want %v", d.LastSeen(), now)
	}
}

func TestDevice_SnapshotCountsDecodes(t *testing.T) {
	d := mustDevice(t, "dev", "AA:BB:CC:DD:EE:FF", ProtocolJDY10)
	d.Decode(FieldServiceClassUUIDs, []byte{0x01, 0x02})
	d.Decode(FieldServiceClassUUIDs, []byte{0x01})

	if got := d.Snapshot().Decodes; got != 1 {
		t.Errorf("Decodes = %d, want 1", got)
	}
}
