package rpc

import "time"

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff returns base * 2^retry, capped at one minute. A non-positive base
// uses one second.
func Backoff(retry int, base time.Duration) time.Duration {
	if base <= 0 {
		base = baseDelay
	}
	if retry < 0 {
		return base
	}
	// 2^30 seconds is already far past the cap.
	if retry > 30 {
		return maxDelay
	}

	d := base * time.Duration(1<<retry)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}
