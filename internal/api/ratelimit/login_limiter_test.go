package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func doLogin(l *LoginLimiter, ip string) int {
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, l.Middleware())

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitPerIP(t *testing.T) {
	l := NewLoginLimiter()

	for i := 0; i < DefaultAttemptsPerMinute; i++ {
		if code := doLogin(l, "10.0.0.1"); code != http.StatusOK {
			t.Fatalf("attempt %d code = %d", i, code)
		}
	}
	if code := doLogin(l, "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("over-limit code = %d, want 429", code)
	}

	// Another address has its own budget.
	if code := doLogin(l, "10.0.0.2"); code != http.StatusOK {
		t.Errorf("other ip code = %d", code)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	l := NewLoginLimiter()
	ip := "10.0.0.3"

	for i := 0; i < DefaultMaxFailures-1; i++ {
		l.RecordFailure(ip)
		if code := doLogin(l, ip); code != http.StatusOK {
			t.Fatalf("code = %d before hitting the failure cap", code)
		}
	}
	l.RecordFailure(ip)

	if code := doLogin(l, ip); code != http.StatusTooManyRequests {
		t.Errorf("locked code = %d, want 429", code)
	}

	// A successful login clears the slate.
	l.RecordSuccess(ip)
	if code := doLogin(l, ip); code != http.StatusOK {
		t.Errorf("post-success code = %d", code)
	}
}

func TestLockoutEscalates(t *testing.T) {
	l := NewLoginLimiter()
	ip := "10.0.0.4"

	for i := 0; i < DefaultMaxFailures; i++ {
		l.RecordFailure(ip)
	}
	first := l.lockouts[ip].lockedUntil

	// Simulate the first lockout elapsing, then a second burst of failures.
	l.lockouts[ip].lockedUntil = time.Now().Add(-time.Second)
	for i := 0; i < DefaultMaxFailures; i++ {
		l.RecordFailure(ip)
	}
	second := l.lockouts[ip].lockedUntil

	if !second.After(first) {
		t.Errorf("second lockout %v not longer than first %v", second, first)
	}
	if l.lockouts[ip].strikes != 2 {
		t.Errorf("strikes = %d, want 2", l.lockouts[ip].strikes)
	}
}

func TestCleanup(t *testing.T) {
	l := NewLoginLimiter()

	l.allow("10.0.0.5")
	l.RecordFailure("10.0.0.6")
	for i := 0; i < DefaultMaxFailures; i++ {
		l.RecordFailure("10.0.0.7")
	}

	l.buckets["10.0.0.5"].resetTime = time.Now().Add(-time.Second)
	l.Cleanup()

	if _, ok := l.buckets["10.0.0.5"]; ok {
		t.Error("expired bucket survived cleanup")
	}
	if _, ok := l.lockouts["10.0.0.6"]; ok {
		t.Error("idle failure history survived cleanup")
	}
	// An active lockout must never be cleaned away.
	if _, ok := l.lockouts["10.0.0.7"]; !ok {
		t.Error("active lockout dropped by cleanup")
	}
}
