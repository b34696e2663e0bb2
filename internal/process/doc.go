// Package process runs short-lived helper commands with a bounded lifetime.
//
// The BLE bridge shells out to adapter tools (hciconfig) during radio
// recovery. Those tools occasionally hang when the controller is wedged, so
// every invocation runs in its own process group and the whole group is
// killed when the timeout expires.
//
// Example usage:
//
//	r := process.NewRunner(process.Config{
//	    Name:    "hciconfig",
//	    Binary:  "/usr/bin/hciconfig",
//	    Timeout: 10 * time.Second,
//	})
//
//	out, err := r.Run(ctx, "hci0", "down")
package process
