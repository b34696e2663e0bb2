// Package influxdb provides InfluxDB connectivity for the Gray Logic BLE bridge.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writes and health monitoring.
//
// # Purpose
//
// The bridge records operational radio metrics only:
//   - ble_scan_pass: frames seen and matched per discovery pass
//   - ble_recovery: attempts and outcome of each adapter recovery
//   - ble_command: attempts and outcome of each command write
//
// Device telemetry history is not stored here; Core owns that.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	metrics := influxdb.NewRadioMetrics(client, "hci0")
//	loop := ble.NewDiscoveryLoop(ble.DiscoveryLoopOptions{Metrics: metrics, ...})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
package influxdb
