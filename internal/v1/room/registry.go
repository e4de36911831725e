package room

import (
	"context"
	"sync"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/ids"
	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/collabboard/collabboard/backend/go/internal/v1/ratelimit"
	"go.uber.org/zap"
)

const (
	// DefaultGracePeriod keeps an empty room alive so a brief disconnect
	// does not wipe the board.
	DefaultGracePeriod = 60 * time.Second

	// janitorInterval paces the background hygiene pass: ghost marking and
	// limiter cleanup.
	janitorInterval = 30 * time.Second
)

// Registry owns every active room and the shared presence subsystem. Rooms
// are created lazily by Join and deleted only after sitting empty for the
// grace period.
type Registry struct {
	mu              sync.Mutex
	rooms           map[string]*Room
	pendingCleanups map[string]*time.Timer
	colorIndex      int

	gracePeriod time.Duration
	presence    *Presence

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry builds a registry and starts its janitor goroutine. Callers
// own the lifecycle and must Shutdown it.
func NewRegistry(gracePeriod time.Duration) *Registry {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	reg := &Registry{
		rooms:           make(map[string]*Room),
		pendingCleanups: make(map[string]*time.Timer),
		gracePeriod:     gracePeriod,
		presence:        NewPresence(),
		stop:            make(chan struct{}),
	}
	reg.wg.Add(1)
	go reg.janitor()
	return reg
}

// Presence returns the shared presence subsystem.
func (reg *Registry) Presence() *Presence {
	return reg.presence
}

// JoinResult reports the identity assigned to a successful joiner.
type JoinResult struct {
	Room   *Room
	UserID string
	Color  string
}

// Join admits a session into roomID, creating the room on first reference.
// A password supplied at creation time sticks for the room's lifetime and
// later joins are validated against it. On success the joiner has already
// received welcome and room_state, and peers have received user_joined.
func (reg *Registry) Join(ctx context.Context, session SessionHandle, roomID, userName, password string) (*JoinResult, error) {
	r := reg.getOrCreate(ctx, roomID, password)

	if !r.ValidatePassword(password) {
		reg.scheduleCleanupIfEmpty(roomID)
		return nil, protocol.ErrInvalidPassword
	}

	u := &UserInfo{
		UserID:   ids.NewUserID(),
		UserName: userName,
		Color:    reg.nextColor(),
		session:  session,
	}
	if err := r.Admit(ctx, u); err != nil {
		reg.scheduleCleanupIfEmpty(roomID)
		return nil, err
	}

	return &JoinResult{Room: r, UserID: u.UserID, Color: u.Color}, nil
}

// Leave removes the member from their room and releases the limiter state
// tied to their id. Safe to call for members already gone.
func (reg *Registry) Leave(ctx context.Context, r *Room, userID string) {
	r.Depart(ctx, userID)
	reg.presence.RemoveUser(userID)
}

// Get returns the live room for roomID, if any.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// RoomCount reports how many rooms are live, grace-period rooms included.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Rooms snapshots the live rooms.
func (reg *Registry) Rooms() []*Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// getOrCreate returns the room for roomID, cancelling any pending grace
// deletion, or inserts a fresh one wired to the registry's cleanup.
func (reg *Registry) getOrCreate(ctx context.Context, roomID, password string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomID]; ok {
		if timer, pending := reg.pendingCleanups[roomID]; pending {
			timer.Stop()
			delete(reg.pendingCleanups, roomID)
			logging.Info(ctx, "Cancelled pending room cleanup due to rejoin", zap.String("room", roomID))
		}
		return r
	}

	r := NewRoom(roomID, password, reg.scheduleCleanup)
	reg.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	metrics.RoomsCreated.Inc()

	logging.Info(ctx, "Created room",
		zap.String("room", roomID),
		zap.Bool("passwordProtected", password != ""),
	)
	return r
}

// scheduleCleanup arms the grace timer for roomID, replacing any timer
// already pending. The timer body verifies that it is still the armed timer
// and that the room is still empty before deleting, so a rejoin that lost
// the Stop race cannot have its room deleted underneath it.
func (reg *Registry) scheduleCleanup(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	select {
	case <-reg.stop:
		return
	default:
	}

	if timer, pending := reg.pendingCleanups[roomID]; pending {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(reg.gracePeriod, func() {
		ctx := logging.WithRoomID(context.Background(), roomID)

		reg.mu.Lock()
		defer reg.mu.Unlock()

		if reg.pendingCleanups[roomID] != timer {
			return
		}
		delete(reg.pendingCleanups, roomID)

		r, ok := reg.rooms[roomID]
		if !ok || r.ParticipantCount() > 0 {
			return
		}

		delete(reg.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomsDeleted.Inc()
		metrics.RoomParticipants.DeleteLabelValues(roomID)

		logging.Info(ctx, "Removed empty room after grace period",
			zap.String("room", roomID),
			zap.Int("strokes", r.StrokeCount()),
			zap.Duration("lifetime", time.Since(r.createdAt)),
		)
	})
	reg.pendingCleanups[roomID] = timer

	logging.Info(context.Background(), "Room empty, scheduled cleanup",
		zap.String("room", roomID),
		zap.Duration("gracePeriod", reg.gracePeriod),
	)
}

// scheduleCleanupIfEmpty re-arms the grace timer after a failed join, which
// may have cancelled the pending cleanup of a still-empty room.
func (reg *Registry) scheduleCleanupIfEmpty(roomID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()

	if ok && r.ParticipantCount() == 0 {
		reg.scheduleCleanup(roomID)
	}
}

// nextColor hands out palette colors round robin. The index advances across
// the whole process so concurrent rooms do not all start on the same color.
func (reg *Registry) nextColor() string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	color := protocol.ColorPalette[reg.colorIndex%len(protocol.ColorPalette)]
	reg.colorIndex++
	return color
}

func (reg *Registry) janitor() {
	defer reg.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reg.sweep(context.Background())
		case <-reg.stop:
			return
		}
	}
}

// sweep is one background hygiene pass: ghosts get their cursors marked
// inactive and limiter entries idle past the bucket max age are dropped.
func (reg *Registry) sweep(ctx context.Context) {
	for _, r := range reg.Rooms() {
		reg.presence.MarkGhostsInactive(ctx, r, protocol.GhostCursorTimeout)
	}
	if removed := reg.presence.Cleanup(ratelimit.DefaultBucketMaxAge); removed > 0 {
		logging.GetLogger().Debug("Dropped idle limiter state", zap.Int("count", removed))
	}
}

// Shutdown stops the janitor, cancels every grace timer, and disconnects
// all members of all rooms.
func (reg *Registry) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down room registry...")

	reg.stopOnce.Do(func() { close(reg.stop) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	reg.mu.Lock()
	for roomID, timer := range reg.pendingCleanups {
		timer.Stop()
		delete(reg.pendingCleanups, roomID)
	}
	rooms := make([]*Room, 0, len(reg.rooms))
	for roomID, r := range reg.rooms {
		rooms = append(rooms, r)
		delete(reg.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomParticipants.DeleteLabelValues(roomID)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Close(ctx, "server shutting down")
	}

	logging.Info(ctx, "All rooms closed", zap.Int("count", len(rooms)))
	return nil
}
