package retry

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxWaitHint caps a server-requested cooldown.
const MaxWaitHint = 24 * time.Hour

// ParseWaitHint extracts the server's requested cooldown from rate-limit headers.
// Retry-After wins over the reset headers. The result lies in [0, MaxWaitHint];
// non-finite values are ignored.
func ParseWaitHint(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}

	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			if d, ok := seconds(secs); ok {
				return d, true
			}
		} else if at, err := http.ParseTime(v); err == nil {
			return clamp(at.Sub(now)), true
		}
	}

	for _, name := range []string{"X-RateLimit-Reset-After", "RateLimit-Reset"} {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil {
				if d, ok := seconds(secs); ok {
					return d, true
				}
			}
		}
	}

	// X-RateLimit-Reset is an absolute unix timestamp (seconds).
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return clamp(time.Unix(epoch, 0).Sub(now)), true
		}
		if epoch, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(epoch) && !math.IsInf(epoch, 0) {
			return seconds(epoch - float64(now.UnixNano())/float64(time.Second))
		}
	}

	return 0, false
}

// seconds converts a header value in seconds without overflowing.
func seconds(secs float64) (time.Duration, bool) {
	switch {
	case math.IsNaN(secs), math.IsInf(secs, 0):
		return 0, false
	case secs <= 0:
		return 0, true
	case secs >= MaxWaitHint.Seconds():
		return MaxWaitHint, true
	}
	return time.Duration(secs * float64(time.Second)), true
}

func clamp(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d > MaxWaitHint:
		return MaxWaitHint
	}
	return d
}
