package ble

import "strconv"

// Event kinds passed to EventRecorder.
const (
	EventRecovered      = "recovered"
	EventRecoveryFailed = "recovery_failed"
	EventWriteFailed    = "write_failed"
	EventPollFailed     = "poll_failed"
)

func attemptsDetail(n int) string {
	return "attempts=" + strconv.Itoa(n)
}
