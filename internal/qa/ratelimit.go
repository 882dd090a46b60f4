package qa

import (
	"sync"
	"time"
)

// LimitResult is the outcome of one rate-limit decision.
type LimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // populated on rejection
}

// RateLimiter is a sliding-window counter with a global ceiling and a
// per-user ceiling over the same window.
type RateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	globalLimit int
	userLimit   int
	global      []time.Time
	users       map[string][]time.Time
	now         func() time.Time
}

// NewRateLimiter builds a limiter. Non-positive limits fall back to the
// defaults of 60 global and 10 per-user requests per minute.
func NewRateLimiter(globalLimit, userLimit int, window time.Duration) *RateLimiter {
	if globalLimit <= 0 {
		globalLimit = 60
	}
	if userLimit <= 0 {
		userLimit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		window:      window,
		globalLimit: globalLimit,
		userLimit:   userLimit,
		users:       make(map[string][]time.Time),
		now:         time.Now,
	}
}

// Allow decides one request, recording it on success.
func (l *RateLimiter) Allow(userID string) LimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	result := l.decide(userID, now)
	if !result.Allowed {
		return result
	}

	l.global = append(l.global, now)
	l.users[userID] = append(l.users[userID], now)
	result.Remaining--
	return result
}

// Check peeks at the decision without recording a request.
func (l *RateLimiter) Check(userID string) LimitResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decide(userID, l.now())
}

// decide prunes expired timestamps and evaluates both ceilings. Caller
// holds the lock.
func (l *RateLimiter) decide(userID string, now time.Time) LimitResult {
	cutoff := now.Add(-l.window)

	l.global = prune(l.global, cutoff)
	userTimes := prune(l.users[userID], cutoff)
	if len(userTimes) == 0 {
		delete(l.users, userID)
	} else {
		l.users[userID] = userTimes
	}

	if len(l.global) >= l.globalLimit {
		return LimitResult{
			RetryAfter: l.global[0].Add(l.window).Sub(now),
		}
	}
	if len(userTimes) >= l.userLimit {
		return LimitResult{
			RetryAfter: userTimes[0].Add(l.window).Sub(now),
		}
	}

	remaining := l.globalLimit - len(l.global)
	if userRemaining := l.userLimit - len(userTimes); userRemaining < remaining {
		remaining = userRemaining
	}
	return LimitResult{Allowed: true, Remaining: remaining}
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	return times[idx:]
}
