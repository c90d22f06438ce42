// Package ratelimit guards the login endpoint against brute-force guessing.
// The server has a single shared password, so limiting keys on client IP.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	DefaultAttemptsPerMinute = 10
	DefaultWindow            = time.Minute
	DefaultMaxFailures       = 5
	DefaultLockout           = 15 * time.Minute
	MaxLockout               = time.Hour
)

type bucket struct {
	count     int
	resetTime time.Time
}

type lockout struct {
	failures    int
	lockedUntil time.Time
	strikes     int
}

// LoginLimiter throttles login attempts per client IP and escalates to a
// temporary lockout after repeated wrong passwords.
type LoginLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	lockouts map[string]*lockout

	limit       int
	window      time.Duration
	maxFailures int
	baseLockout time.Duration
}

func NewLoginLimiter() *LoginLimiter {
	return &LoginLimiter{
		buckets:     make(map[string]*bucket),
		lockouts:    make(map[string]*lockout),
		limit:       DefaultAttemptsPerMinute,
		window:      DefaultWindow,
		maxFailures: DefaultMaxFailures,
		baseLockout: DefaultLockout,
	}
}

// Middleware rejects requests from IPs that are rate-limited or locked out.
func (l *LoginLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if l.isLocked(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many failed attempts, try again later")
			}
			if !l.allow(ip) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, please try again later")
			}
			return next(c)
		}
	}
}

func (l *LoginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, exists := l.buckets[ip]
	if !exists || now.After(b.resetTime) {
		l.buckets[ip] = &bucket{count: 1, resetTime: now.Add(l.window)}
		return true
	}
	if b.count >= l.limit {
		return false
	}
	b.count++
	return true
}

func (l *LoginLimiter) isLocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, exists := l.lockouts[ip]
	return exists && time.Now().Before(lo.lockedUntil)
}

// RecordFailure counts a wrong password. Lockout duration grows with each
// repeat offense, capped at MaxLockout.
func (l *LoginLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lo, exists := l.lockouts[ip]
	if !exists {
		lo = &lockout{}
		l.lockouts[ip] = lo
	}

	if time.Now().After(lo.lockedUntil) && lo.failures >= l.maxFailures {
		lo.failures = 0
	}
	lo.failures++

	if lo.failures >= l.maxFailures {
		lo.strikes++
		duration := l.baseLockout * time.Duration(lo.strikes)
		if duration > MaxLockout {
			duration = MaxLockout
		}
		lo.lockedUntil = time.Now().Add(duration)
	}
}

// RecordSuccess clears the failure history for an IP.
func (l *LoginLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lockouts, ip)
}

// Cleanup drops expired state. Called periodically from the scheduler.
func (l *LoginLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for ip, b := range l.buckets {
		if now.After(b.resetTime) {
			delete(l.buckets, ip)
		}
	}
	for ip, lo := range l.lockouts {
		if now.After(lo.lockedUntil) && lo.failures < l.maxFailures {
			delete(l.lockouts, ip)
		}
	}
}
