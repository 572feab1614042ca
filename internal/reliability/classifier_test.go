package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(nil) {
		t.Fatalf("IsTimeout(nil) = true, want false")
	}
	if IsTimeout(errors.New("boom")) {
		t.Fatalf("IsTimeout(plain error) = true, want false")
	}
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("IsTimeout(DeadlineExceeded) = false, want true")
	}
	wrapped := errors.Join(errors.New("dial"), context.DeadlineExceeded)
	if !IsTimeout(wrapped) {
		t.Fatalf("IsTimeout(wrapped DeadlineExceeded) = false, want true")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
