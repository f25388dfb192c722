package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a per-IP keyed set of token buckets (spec §4.5). The bucket
// map is guarded by a mutex and each rate.Limiter takes its own lock, so
// Allow is not wait-free. One of the three process-wide shared structures
// named in spec §5 "Global state".
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// NewLimiter builds a limiter that allows perMinute requests per key,
// refilling continuously, with burst equal to perMinute (so a client that
// has been idle can use its full minute's allowance in a single burst,
// matching "login 20/min" read as a steady-state rate rather than a
// strict sliding window).
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

// Allow reports whether a request keyed by ip may proceed, consuming one
// token if so.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[ip] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// LoginLimiter and TwoFALimiter are the two named buckets from spec §4.5.
func NewLoginLimiter() *Limiter { return NewLimiter(20) }
func NewTwoFALimiter() *Limiter { return NewLimiter(30) }
