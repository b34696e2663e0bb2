package influxdb

import "errors"

// Sentinel errors; match with errors.Is. Callers treat ErrDisabled as
// "run without metrics" rather than a failure.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
