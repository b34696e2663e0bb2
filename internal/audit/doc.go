// Package audit keeps a durable log of notable radio events in the
// audit_logs table: adapter recoveries, failed writes and failed polls.
//
// The bridge reports events through the ble.EventRecorder interface.
// RadioRecorder adapts a Repository to it so the radio code does not
// depend on SQL.
package audit
