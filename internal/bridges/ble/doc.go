// Package ble implements the BLE radio engine and its MQTT bridge.
//
// The engine has three radio users that share one adapter:
//
//	DiscoveryLoop ──TryAcquire──┐
//	                            ├── RadioGuard ── Scanner / Connector
//	CommandWriter ──Suspend+Acquire──┘
//	      ▲
//	RecoveryController (runs inside a loop pass that holds the guard)
//
// A scan pass turns advertisements into AdvertisementFrames, looks each
// address up in the device.Registry and feeds every field to every device
// bound to that address. A failed scan first restarts the scan session and
// then escalates to adapter recovery. Writers raise the suspend flag so the
// loop skips its passes (and defers recovery) until the write is done.
//
// The Bridge publishes entity state whenever a device decodes new telemetry,
// turns MQTT commands into writes and polls, and reports health.
//
// # Topics
//
//	graylogic/state/ble/{device_id}    retained entity state
//	graylogic/command/ble/{device_id}  on, off, toggle_pin, poll
//	graylogic/ack/ble/{device_id}      accepted, completed, failed
//	graylogic/health/ble               retained bridge health (LWT: offline)
package ble
