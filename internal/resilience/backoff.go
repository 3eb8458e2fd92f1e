// Package resilience provides the reconnection, retry and circuit
// breaker primitives shared by the websocket client and the upstream
// service adapters.
package resilience

import (
	"math"
	"time"
)

// BackoffDelay returns the delay before reconnect attempt n (1-based):
// min(base * 2^(n-1), max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if d > max || d < 0 {
		return max
	}
	return d
}
