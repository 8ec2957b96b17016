package outbox

import "time"

const (
	backoffBase = 30 * time.Second
	backoffMax  = time.Hour
)

// Backoff is the delay before retry attempt n (1-based): 30s doubling per
// attempt, capped at one hour.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}
