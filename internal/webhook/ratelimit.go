package webhook

import (
	"sync"
	"time"
)

// Limiter enforces the webhook call policy for one session: a minimum
// period between consecutive calls, and a circuit breaker that disables the
// session's webhook capability once consecutive failures reach the limit.
// Calls inside the period are dropped, not queued.
type Limiter struct {
	period       time.Duration
	failureLimit int

	mu       sync.Mutex
	lastCall time.Time
	failures int
	now      func() time.Time
}

// NewLimiter creates a limiter with the given period and failure limit.
func NewLimiter(period time.Duration, failureLimit int) *Limiter {
	return &Limiter{
		period:       period,
		failureLimit: failureLimit,
		now:          time.Now,
	}
}

// Allow reports whether a call may be issued now, and records the call time
// when it may. Tripped limiters refuse every call until Reset.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failures >= l.failureLimit {
		return false
	}

	now := l.now()
	if !l.lastCall.IsZero() && now.Sub(l.lastCall) < l.period {
		return false
	}
	l.lastCall = now
	return true
}

// Failure records one failed call (transport failure or oversize response).
func (l *Limiter) Failure() {
	l.mu.Lock()
	l.failures++
	l.mu.Unlock()
}

// Success resets the consecutive failure count.
func (l *Limiter) Success() {
	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
}

// Tripped reports whether the circuit breaker has disabled this session.
func (l *Limiter) Tripped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures >= l.failureLimit
}

// Reset re-enables a tripped limiter. Only an external reset (for example a
// reconfiguration) restores the capability; there is no retry policy.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.failures = 0
	l.lastCall = time.Time{}
	l.mu.Unlock()
}
