package reliability

import "time"

// IsRetryableHTTPStatus classifies HTTP status codes worth one more attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableChannelCode classifies realtime channel close/error codes that
// indicate a transient upstream condition rather than a protocol fault.
func IsRetryableChannelCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "server_overloaded", "timeout":
		return true
	default:
		return false
	}
}

// Backoff computes a deterministic capped exponential backoff for attempt n
// (0-based). Attempt 0 returns base.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
