package device

import "encoding/binary"

// decoder derives new telemetry from a payload. It returns false when no
// field group could be assigned, in which case the input is returned as is.
type decoder func(Telemetry, []byte) (Telemetry, bool)

// words regroups a payload into big-endian 16-bit segments. A trailing odd
// byte does not form a segment.
func words(payload []byte) []uint16 {
	out := make([]uint16, len(payload)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(payload[2*i:])
	}
	return out
}

// DecodeEnvironmentalServiceData decodes jdy08 service data.
//
// Payload layout (service UUID prefix included):
//   - last three bytes: temperature, humidity, battery (needs more than 2 bytes)
//   - 16-bit words 3 and 4: major, minor (needs more than 4 words)
//
// Each group is assigned independently.
func DecodeEnvironmentalServiceData(t Telemetry, payload []byte) (Telemetry, bool) {
	updated := false

	if n := len(payload); n > 2 {
		t.Temperature = payload[n-3]
		t.Humidity = payload[n-2]
		t.Battery = payload[n-1]
		updated = true
	}

	if w := words(payload); len(w) > 4 {
		t.Major = w[3]
		t.Minor = w[4]
		updated = true
	}

	return t, updated
}

// DecodeEnvironmentalManufacturerData decodes major/minor from an
// iBeacon-shaped manufacturer data field: words 10 and 11 once the payload
// carries more than 11 words.
func DecodeEnvironmentalManufacturerData(t Telemetry, payload []byte) (Telemetry, bool) {
	w := words(payload)
	if len(w) <= 11 {
		return t, false
	}
	t.Major = w[10]
	t.Minor = w[11]
	return t, true
}

// compactValueMask keeps the 14 bits a jdy10 value occupies.
const compactValueMask = 0x3FFF

// DecodeCompactServiceClass decodes the jdy10 14-bit value carried in the
// first little-endian service class UUID. The high 8 bits become ValueHigh
// and the low 6 bits ValueLow. The top two bits of the second byte are not
// part of the value and are discarded.
func DecodeCompactServiceClass(t Telemetry, payload []byte) (Telemetry, bool) {
	if len(payload) <= 1 {
		return t, false
	}
	value := (uint16(payload[1])<<8 | uint16(payload[0])) & compactValueMask
	t.ValueHigh = uint8(value >> 6)
	t.ValueLow = uint8(value & 0x3F)
	return t, true
}

// DecodeCounterNotification decodes a cc41a notification: two bytes,
// big-endian.
func DecodeCounterNotification(t Telemetry, payload []byte) (Telemetry, bool) {
	if len(payload) < 2 {
		return t, false
	}
	t.LatestValue = uint16(payload[0])*256 + uint16(payload[1])
	return t, true
}
