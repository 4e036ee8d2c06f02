package server

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// loginAttempt identifies who is guessing which account.
type loginAttempt struct {
	client   string
	username string
}

func newLoginAttempt(username string, r *http.Request) loginAttempt {
	attempt := loginAttempt{
		client:   requestClientIP(r),
		username: strings.ToLower(strings.TrimSpace(username)),
	}
	if attempt.client == "" {
		attempt.client = "<unknown>"
	}
	return attempt
}

// loginRateLimiter locks an attempt key out for lockout once it has failed
// maxFailures times inside window. A nil limiter allows everything.
type loginRateLimiter struct {
	mu          sync.Mutex
	attempts    map[loginAttempt]*failureRecord
	maxFailures int
	window      time.Duration
	lockout     time.Duration
	nextSweep   time.Time
}

type failureRecord struct {
	count       int
	windowStart time.Time
	lockedUntil time.Time
}

func newLoginRateLimiter(maxFailures int, window, lockout time.Duration) *loginRateLimiter {
	if maxFailures <= 0 || window <= 0 || lockout <= 0 {
		return nil
	}
	return &loginRateLimiter{
		attempts:    make(map[loginAttempt]*failureRecord),
		maxFailures: maxFailures,
		window:      window,
		lockout:     lockout,
	}
}

// Allow returns zero when key may try to log in at now, else how long it
// must wait.
func (l *loginRateLimiter) Allow(key loginAttempt, now time.Time) time.Duration {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	rec, ok := l.attempts[key]
	if !ok {
		return 0
	}
	if now.Before(rec.lockedUntil) {
		return rec.lockedUntil.Sub(now)
	}
	return 0
}

// Fail records one failed login for key.
func (l *loginRateLimiter) Fail(key loginAttempt, now time.Time) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[key]
	if !ok {
		rec = &failureRecord{}
		l.attempts[key] = rec
	}
	if rec.count == 0 || now.Sub(rec.windowStart) > l.window {
		rec.count = 0
		rec.windowStart = now
	}
	rec.count++
	if rec.count >= l.maxFailures {
		rec.lockedUntil = now.Add(l.lockout)
		rec.count = 0
	}
}

// Reset forgets key after a successful login.
func (l *loginRateLimiter) Reset(key loginAttempt) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// sweepLocked drops records that can no longer block anyone, at most once
// per window.
func (l *loginRateLimiter) sweepLocked(now time.Time) {
	if now.Before(l.nextSweep) {
		return
	}
	l.nextSweep = now.Add(l.window)
	for key, rec := range l.attempts {
		if !now.Before(rec.lockedUntil) && now.Sub(rec.windowStart) > l.window {
			delete(l.attempts, key)
		}
	}
}
