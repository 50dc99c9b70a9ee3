package exact

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate limit response headers sent by Exact Online.
const (
	HeaderMinutelyLimit     = "X-RateLimit-Minutely-Limit"
	HeaderMinutelyRemaining = "X-RateLimit-Minutely-Remaining"
	HeaderMinutelyReset     = "X-RateLimit-Minutely-Reset"
	HeaderDailyLimit        = "X-RateLimit-Limit"
	HeaderDailyRemaining    = "X-RateLimit-Remaining"
	HeaderDailyReset        = "X-RateLimit-Reset"
)

const (
	// RetryWait is slept after an HTTP 429 before the single retry.
	RetryWait = 61 * time.Second
	// MaxRateLimitWait caps the proactive wait for the minutely window.
	MaxRateLimitWait = 60 * time.Second
)

// RateLimit is the rate limit state reported by a single response.
type RateLimit struct {
	// Present is false when the response carried no minutely remaining header.
	Present        bool
	Limit          int
	Remaining      int
	Reset          time.Time
	DailyLimit     int
	DailyRemaining int
	DailyReset     time.Time
}

// ParseRateLimit reads the rate limit headers. Unparseable values are
// treated as absent.
func ParseRateLimit(h http.Header) RateLimit {
	var rl RateLimit
	if v, ok := headerInt(h, HeaderMinutelyRemaining); ok {
		rl.Present = true
		rl.Remaining = v
	}
	rl.Limit, _ = headerInt(h, HeaderMinutelyLimit)
	rl.Reset = headerEpoch(h, HeaderMinutelyReset)
	rl.DailyLimit, _ = headerInt(h, HeaderDailyLimit)
	rl.DailyRemaining, _ = headerInt(h, HeaderDailyRemaining)
	rl.DailyReset = headerEpoch(h, HeaderDailyReset)
	return rl
}

// Exhausted reports whether the minutely quota is used up.
func (r RateLimit) Exhausted() bool {
	return r.Present && r.Remaining <= 0
}

// WaitDuration returns how long to wait for the minutely window to reset,
// between zero and MaxRateLimitWait. A missing reset time waits the full cap.
func (r RateLimit) WaitDuration(now time.Time) time.Duration {
	if r.Reset.IsZero() {
		return MaxRateLimitWait
	}
	wait := r.Reset.Sub(now)
	if wait < 0 {
		return 0
	}
	if wait > MaxRateLimitWait {
		return MaxRateLimitWait
	}
	return wait
}

func headerInt(h http.Header, name string) (int, bool) {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// headerEpoch parses a Unix timestamp in milliseconds, or in seconds for
// values too small to be milliseconds.
func headerEpoch(h http.Header, name string) time.Time {
	raw := strings.TrimSpace(h.Get(name))
	if raw == "" {
		return time.Time{}
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}
	}
	if v >= 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
