package queue

import "time"

// Backoff returns base * 2^(attempt-1) capped at max. attempt is the number
// of attempts already made, starting at 1.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	// 2^30 * base overflows any sane cap.
	if attempt > 30 {
		return capped(max, base<<30)
	}
	return capped(max, base*time.Duration(1<<(attempt-1)))
}

func capped(max, d time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
