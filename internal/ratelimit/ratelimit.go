// Package ratelimit implements the per-(keyHash, action) token bucket of
// spec §4.N over golang.org/x/time/rate, the library the pack already uses
// for this exact per-key limiter-map shape.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerMinute = 60
	defaultBurst         = 10
)

type bucketKey struct {
	keyHash string
	action  string
}

// Limiter holds one token bucket per (keyHash, action) pair.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*rate.Limiter
	rate     rate.Limit
	burst    int
	disabled bool
}

// New returns a limiter allowing ratePerMinute requests per minute per key,
// with disabled short-circuiting every check to true (spec's test-mode
// switch).
func New(ratePerMinute int, disabled bool) *Limiter {
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	return &Limiter{
		buckets:  make(map[bucketKey]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(ratePerMinute)),
		burst:    defaultBurst,
		disabled: disabled,
	}
}

// Allow reports whether the (keyHash, action) pair may proceed. On
// rejection, retryAfter is the suggested wait in seconds.
func (l *Limiter) Allow(keyHash, action string) (ok bool, retryAfter int) {
	if l.disabled {
		return true, 0
	}
	bucket := l.bucketFor(keyHash, action)
	res := bucket.Reserve()
	if !res.OK() {
		return false, 1
	}
	delay := res.Delay()
	if delay <= 0 {
		return true, 0
	}
	res.Cancel()
	return false, int(delay/time.Second) + 1
}

func (l *Limiter) bucketFor(keyHash, action string) *rate.Limiter {
	k := bucketKey{keyHash: keyHash, action: action}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[k]
	if !ok {
		b = rate.NewLimiter(l.rate, l.burst)
		l.buckets[k] = b
	}
	return b
}
