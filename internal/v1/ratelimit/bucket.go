// Package ratelimit implements the per-user token buckets that pace in-room
// message traffic and the per-IP limiter that paces connection attempts.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
)

// DefaultViolationsBeforeMute is how many consecutive rejected consumes a
// user gets before a timed mute kicks in.
const DefaultViolationsBeforeMute = 3

// DefaultBucketMaxAge is how long an untouched per-user bucket survives
// before Cleanup drops it.
const DefaultBucketMaxAge = 5 * time.Minute

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucket applies an independent token bucket to each user id. Buckets
// are created full on first use so a fresh user gets the whole burst.
type TokenBucket struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*userBucket

	now func() time.Time
}

// NewTokenBucket builds a per-user limiter refilling tokensPerSecond up to
// burst tokens.
func NewTokenBucket(tokensPerSecond, burst float64) *TokenBucket {
	return &TokenBucket{
		limit:   rate.Limit(tokensPerSecond),
		burst:   int(burst),
		buckets: make(map[string]*userBucket),
		now:     time.Now,
	}
}

// TryConsume takes one token from the user's bucket, reporting false when
// the bucket is empty.
func (tb *TokenBucket) TryConsume(userID string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	return tb.bucketLocked(userID, now).limiter.AllowN(now, 1)
}

// CanConsume reports whether a token is available without taking one.
func (tb *TokenBucket) CanConsume(userID string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	return tb.bucketLocked(userID, now).limiter.TokensAt(now) >= 1
}

// Tokens returns the user's current token count. The second return is false
// when the user has no bucket yet.
func (tb *TokenBucket) Tokens(userID string) (float64, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[userID]
	if !ok {
		return 0, false
	}
	return b.limiter.TokensAt(tb.now()), true
}

// Remove drops the user's bucket. Call on disconnect.
func (tb *TokenBucket) Remove(userID string) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.buckets, userID)
}

// Cleanup drops buckets untouched for longer than maxAge and returns how
// many were removed.
func (tb *TokenBucket) Cleanup(maxAge time.Duration) int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	removed := 0
	for id, b := range tb.buckets {
		if now.Sub(b.lastSeen) > maxAge {
			delete(tb.buckets, id)
			removed++
		}
	}
	return removed
}

// Size reports how many users currently have buckets.
func (tb *TokenBucket) Size() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

func (tb *TokenBucket) bucketLocked(userID string, now time.Time) *userBucket {
	b, ok := tb.buckets[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(tb.limit, tb.burst)}
		tb.buckets[userID] = b
	}
	b.lastSeen = now
	return b
}

// Decision is the outcome of a muting-limiter consume attempt.
type Decision int

const (
	Allowed Decision = iota
	Limited
	Muted
)

// String returns the metric label form of the decision.
func (d Decision) String() string {
	switch d {
	case Allowed:
		return "ok"
	case Limited:
		return "limited"
	default:
		return "muted"
	}
}

// MutingLimiter wraps a TokenBucket and escalates repeat offenders into a
// timed mute: consecutive rejected consumes past the threshold silence the
// user for muteFor, during which attempts fail without touching the bucket.
// A successful consume or an expired mute clears the violation count.
type MutingLimiter struct {
	mu         sync.Mutex
	bucket     *TokenBucket
	muteFor    time.Duration
	threshold  int
	violations map[string]int
	mutedUntil map[string]time.Time

	now func() time.Time
}

// NewMutingLimiter builds a muting limiter over a fresh TokenBucket.
func NewMutingLimiter(tokensPerSecond, burst float64, muteFor time.Duration, violationsBeforeMute int) *MutingLimiter {
	return &MutingLimiter{
		bucket:     NewTokenBucket(tokensPerSecond, burst),
		muteFor:    muteFor,
		threshold:  violationsBeforeMute,
		violations: make(map[string]int),
		mutedUntil: make(map[string]time.Time),
		now:        time.Now,
	}
}

// setNow pins the clock for both the wrapper and the inner bucket.
func (m *MutingLimiter) setNow(now func() time.Time) {
	m.now = now
	m.bucket.now = now
}

// TryConsume attempts to take one token for the user, tracking violations.
func (m *MutingLimiter) TryConsume(userID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.mutedUntil[userID]; ok {
		if now.Before(until) {
			return Muted
		}
		delete(m.mutedUntil, userID)
		delete(m.violations, userID)
	}

	if m.bucket.TryConsume(userID) {
		delete(m.violations, userID)
		return Allowed
	}

	m.violations[userID]++
	if m.violations[userID] >= m.threshold {
		m.mutedUntil[userID] = now.Add(m.muteFor)
		metrics.Mutes.Inc()
		logging.Warn(context.Background(), "user muted for message flooding",
			zap.String("user_id", userID),
			zap.Duration("mute_duration", m.muteFor),
		)
		return Muted
	}
	return Limited
}

// IsMuted reports whether the user is currently muted, clearing expired
// mutes as a side effect.
func (m *MutingLimiter) IsMuted(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.mutedUntil[userID]
	if !ok {
		return false
	}
	if !m.now().Before(until) {
		delete(m.mutedUntil, userID)
		delete(m.violations, userID)
		return false
	}
	return true
}

// MuteRemaining returns how long the user's mute has left, zero when not
// muted.
func (m *MutingLimiter) MuteRemaining(userID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.mutedUntil[userID]
	if !ok {
		return 0
	}
	now := m.now()
	if !now.Before(until) {
		delete(m.mutedUntil, userID)
		delete(m.violations, userID)
		return 0
	}
	return until.Sub(now)
}

// Remove drops all tracking for the user. Call on disconnect.
func (m *MutingLimiter) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bucket.Remove(userID)
	delete(m.violations, userID)
	delete(m.mutedUntil, userID)
}

// Cleanup drops buckets idle longer than maxAge along with expired mutes,
// returning the number of buckets removed.
func (m *MutingLimiter) Cleanup(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, until := range m.mutedUntil {
		if !now.Before(until) {
			delete(m.mutedUntil, id)
			delete(m.violations, id)
		}
	}
	return m.bucket.Cleanup(maxAge)
}

// Size reports how many users currently have buckets.
func (m *MutingLimiter) Size() int {
	return m.bucket.Size()
}
