package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names for radio metrics.
const (
	MeasurementScanPass = "ble_scan_pass"
	MeasurementRecovery = "ble_recovery"
	MeasurementCommand  = "ble_command"
)

// WritePoint queues one point stamped with the current time. Points
// written while disconnected are dropped.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Indexed, low-cardinality labels (adapter, device_id, ok)
//   - fields: The values
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

// PointWriter accepts points. Client satisfies it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// RadioMetrics records discovery, recovery and command outcomes as points.
// It satisfies the bridge's metrics recorder interface.
type RadioMetrics struct {
	writer  PointWriter
	adapter string
}

// NewRadioMetrics creates a recorder tagging every point with adapter.
func NewRadioMetrics(w PointWriter, adapter string) *RadioMetrics {
	return &RadioMetrics{writer: w, adapter: adapter}
}

func (m *RadioMetrics) tags(extra ...string) map[string]string {
	tags := map[string]string{"adapter": m.adapter}
	for i := 0; i+1 < len(extra); i += 2 {
		tags[extra[i]] = extra[i+1]
	}
	return tags
}

// RecordScanPass writes one discovery pass.
//
// Parameters:
//   - frames: Frames the scanner returned
//   - matched: Frames attributed to a registered device
//   - d: Wall time of the pass
//   - err: Scan error, nil on success
func (m *RadioMetrics) RecordScanPass(frames, matched int, d time.Duration, err error) {
	m.writer.WritePoint(MeasurementScanPass,
		m.tags("ok", boolTag(err == nil)),
		map[string]interface{}{
			"frames":      frames,
			"matched":     matched,
			"duration_ms": d.Milliseconds(),
		})
}

// RecordRecovery writes one adapter recovery.
func (m *RadioMetrics) RecordRecovery(attempts int, success bool, d time.Duration) {
	m.writer.WritePoint(MeasurementRecovery,
		m.tags("ok", boolTag(success)),
		map[string]interface{}{
			"attempts":    attempts,
			"duration_ms": d.Milliseconds(),
		})
}

// RecordCommand writes one command write.
func (m *RadioMetrics) RecordCommand(deviceID string, attempts int, success bool) {
	m.writer.WritePoint(MeasurementCommand,
		m.tags("device_id", deviceID, "ok", boolTag(success)),
		map[string]interface{}{
			"attempts": attempts,
		})
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
