package room

import (
	"context"
	"sort"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/collabboard/collabboard/backend/go/internal/v1/ratelimit"
	"go.uber.org/zap"
	"k8s.io/utils/set"
)

// Presence relays cursor movement and watches member liveness. Cursor
// updates are loss-tolerant: anything over the per-user budget is counted
// and dropped without an error frame, and repeat offenders are muted.
type Presence struct {
	limiter *ratelimit.MutingLimiter
}

// NewPresence builds the presence subsystem with the protocol cursor budget
// (20 updates/s, burst 5, 10s mute after repeated flooding). User ids are
// process-unique, so one limiter serves every room.
func NewPresence() *Presence {
	return &Presence{
		limiter: ratelimit.NewMutingLimiter(
			protocol.CursorUpdatesPerSecond,
			protocol.RateLimitBurstSize,
			protocol.RateLimitMuteDuration,
			ratelimit.DefaultViolationsBeforeMute,
		),
	}
}

// CursorMove spends one token from the user's budget, stores the new
// position, and fans it out to the other members. It reports whether the
// update was applied; rejected updates are dropped without a reply.
func (p *Presence) CursorMove(ctx context.Context, r *Room, userID string, x, y float32) bool {
	decision := p.limiter.TryConsume(userID)
	metrics.CursorUpdates.WithLabelValues(decision.String()).Inc()
	if decision != ratelimit.Allowed {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.updateCursorLocked(userID, x, y) {
		return false
	}

	msg, err := protocol.NewCursorMove(userID, x, y, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build cursor_move message", zap.Error(err))
		return false
	}
	r.broadcastRawLocked(msg, userID)
	return true
}

// GhostUsers returns the ids of members whose last activity is older than
// timeout.
func (p *Presence) GhostUsers(r *Room, timeout time.Duration) set.Set[string] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ghosts := set.New[string]()
	now := r.now()
	for id, u := range r.members {
		if u.isGhost(now, timeout) {
			ghosts.Insert(id)
		}
	}
	return ghosts
}

// MarkGhostsInactive flips isActive off for every ghost and returns the ids
// it changed. Ghosts keep their membership and their capacity slot; any
// later activity marks them active again.
func (p *Presence) MarkGhostsInactive(ctx context.Context, r *Room, timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var marked []string
	now := r.now()
	for id, u := range r.members {
		if u.isActive && u.isGhost(now, timeout) {
			u.isActive = false
			marked = append(marked, id)
		}
	}

	if len(marked) > 0 {
		sort.Strings(marked)
		logging.Info(ctx, "Marked ghost cursors inactive",
			zap.String("room", r.ID),
			zap.Strings("userIds", marked),
		)
	}
	return marked
}

// RemoveUser drops the user's limiter state on disconnect.
func (p *Presence) RemoveUser(userID string) {
	p.limiter.Remove(userID)
}

// IsMuted reports whether the user is currently muted for flooding.
func (p *Presence) IsMuted(userID string) bool {
	return p.limiter.IsMuted(userID)
}

// Cleanup drops limiter state idle longer than maxAge and returns how many
// entries went away.
func (p *Presence) Cleanup(maxAge time.Duration) int {
	return p.limiter.Cleanup(maxAge)
}

// TrackedUsers reports how many users currently hold limiter state.
func (p *Presence) TrackedUsers() int {
	return p.limiter.Size()
}
