package admission

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the per-process token bucket named in §4.1, independent of
// single-flight admission. It wraps x/time/rate so refill math isn't
// hand-rolled, but translates Reserve()'s delay into the spec's exact
// retry_after_sec semantics (rounded up from the deficit / refill rate,
// never less than 1 on denial).
type Limiter struct {
	rl  *rate.Limiter
	rpm int
}

// NewLimiter builds a limiter refilling rpm tokens per minute with the
// given burst capacity.
func NewLimiter(rpm, burst int) *Limiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	perSecond := rate.Limit(float64(rpm) / 60.0)
	return &Limiter{rl: rate.NewLimiter(perSecond, burst), rpm: rpm}
}

// Allow consumes one token if available. ok=false means denied; in that
// case retryAfterS is rounded up from the deficit and is always >= 1.
func (l *Limiter) Allow() (ok bool, retryAfterS int) {
	r := l.rl.ReserveN(time.Now(), 1)
	if !r.OK() {
		return false, 1
	}
	delay := r.Delay()
	if delay <= 0 {
		return true, 0
	}
	r.Cancel()
	seconds := int(math.Ceil(delay.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return false, seconds
}
