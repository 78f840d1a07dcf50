package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 404, 422} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestIsRetryableChannelCode(t *testing.T) {
	if !IsRetryableChannelCode("rate_limited") {
		t.Fatalf("rate_limited should be retryable")
	}
	if IsRetryableChannelCode("invalid_frame") {
		t.Fatalf("invalid_frame should not be retryable")
	}
}

func TestBackoffCapsAndGrows(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 800 * time.Millisecond
	if d := Backoff(0, base, cap); d != base {
		t.Fatalf("Backoff(0) = %s, want %s", d, base)
	}
	if d := Backoff(2, base, cap); d != 400*time.Millisecond {
		t.Fatalf("Backoff(2) = %s, want 400ms", d)
	}
	if d := Backoff(10, base, cap); d != cap {
		t.Fatalf("Backoff(10) = %s, want cap %s", d, cap)
	}
}
