// Package ratelimit provides a per-tenant fixed-window quota with a minimum
// inter-request gap. Single process, in-memory; there is no cross-process
// coordination.
package ratelimit

import (
	"sync"
	"time"

	"github.com/avelichko/walink/internal/domain"
)

// Reason explains why a request was blocked.
type Reason string

const (
	// ReasonCooldown means the minimum gap since the last recorded request
	// has not elapsed yet.
	ReasonCooldown Reason = "cooldown"
	// ReasonQuota means the window quota is exhausted.
	ReasonQuota Reason = "quota_exceeded"
)

// Decision is the outcome of an Allow check.
type Decision struct {
	OK         bool
	Reason     Reason
	RetryAfter time.Duration
}

type bucket struct {
	windowStart   time.Time
	count         int
	lastRequestAt time.Time
}

// Limiter gates per-tenant request volume. Callers must pair Allow with
// Record: check Allow first, and call Record only when actually proceeding
// with the guarded operation.
type Limiter struct {
	window   time.Duration
	quota    int
	cooldown time.Duration

	mu      sync.Mutex
	buckets map[domain.TenantID]*bucket
	now     func() time.Time
}

// New creates a limiter with window size w, max quota requests per window,
// and minimum gap cooldown between requests.
func New(w time.Duration, quota int, cooldown time.Duration) *Limiter {
	return &Limiter{
		window:   w,
		quota:    quota,
		cooldown: cooldown,
		buckets:  make(map[domain.TenantID]*bucket),
		now:      time.Now,
	}
}

// Allow reports whether the tenant may perform one more guarded operation.
// It does not consume quota; call Record when the operation proceeds.
func (l *Limiter) Allow(tenant domain.TenantID) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucket(tenant, now)

	// Cooldown is checked before quota so a caller backing off from a gap
	// violation does not learn a stale quota verdict.
	if !b.lastRequestAt.IsZero() {
		if gap := now.Sub(b.lastRequestAt); gap < l.cooldown {
			return Decision{Reason: ReasonCooldown, RetryAfter: l.cooldown - gap}
		}
	}

	if b.count >= l.quota {
		return Decision{Reason: ReasonQuota, RetryAfter: b.windowStart.Add(l.window).Sub(now)}
	}

	return Decision{OK: true}
}

// Record consumes one unit of quota. Never call it without a prior
// successful Allow, and never skip it after performing the guarded
// operation.
func (l *Limiter) Record(tenant domain.TenantID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucket(tenant, now)
	b.count++
	b.lastRequestAt = now
}

// Forget drops a tenant's bucket. Used when a tenant's session is removed.
func (l *Limiter) Forget(tenant domain.TenantID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, tenant)
}

// bucket returns the tenant's bucket, creating it lazily and resetting it
// when the window has elapsed. Caller holds l.mu.
func (l *Limiter) bucket(tenant domain.TenantID, now time.Time) *bucket {
	b, ok := l.buckets[tenant]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[tenant] = b
		return b
	}
	if now.Sub(b.windowStart) > l.window {
		b.windowStart = now
		b.count = 0
	}
	return b
}
