package ratelimiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Limiter throttles connection admission on the reactor's accept path.
//
// It wraps a golang.org/x/time/rate token bucket: tokens refill at a
// constant rate, each admitted connection consumes one, and the bucket
// capacity (burst) bounds how many connections may arrive back to back.
//
// A Limiter built with a zero rate admits everything. A nil *Limiter
// behaves the same way, so callers can leave the field unset.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter  *rate.Limiter
	rejected atomic.Uint64
}

// New creates a Limiter admitting perSecond connections per second with
// the given burst capacity.
//
// Special cases:
//   - perSecond = 0: unlimited
//   - burst = 0: burst defaults to perSecond
func New(perSecond, burst uint) *Limiter {
	if perSecond == 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = perSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst))}
}

// Admit reports whether one more connection may be accepted right now.
// It never blocks; a refused admission is counted in Rejected.
func (l *Limiter) Admit() bool {
	if l == nil {
		return true
	}
	if l.limiter.Allow() {
		return true
	}
	l.rejected.Add(1)
	return false
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Rejected returns the number of admissions refused so far.
func (l *Limiter) Rejected() uint64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// SetLimit changes the sustained admission rate. Zero removes the limit.
// When the burst was tracking the old rate it follows the new one.
func (l *Limiter) SetLimit(perSecond uint) {
	if perSecond == 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}

	oldRate := l.limiter.Limit()
	oldBurst := l.limiter.Burst()
	l.limiter.SetLimit(rate.Limit(perSecond))

	if oldRate == rate.Inf || rate.Limit(oldBurst) <= oldRate {
		l.limiter.SetBurst(int(perSecond))
	}
}

// Tokens returns the tokens currently in the bucket, for monitoring.
func (l *Limiter) Tokens() float64 {
	return l.limiter.Tokens()
}
