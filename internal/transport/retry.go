package transport

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"geminiclient-go/internal/constants"
)

// Backoff returns the delay before retry attempt n (zero-based):
// exponential growth capped at the maximum, plus uniform jitter so
// simultaneous failures don't reconnect in lockstep.
func Backoff(attempt int) time.Duration {
	base := float64(constants.BackoffBaseDelay)
	dur := base * math.Pow(2, float64(attempt))
	if capped := float64(constants.BackoffMaxDelay); dur > capped {
		dur = capped
	}
	return time.Duration(dur) + time.Duration(rand.Int63n(int64(constants.BackoffJitterMax)))
}

// ParseRetryAfter reads a Retry-After header value in either the
// delta-seconds or the HTTP-date form.
func ParseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}
	return 0, false
}
