package room

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"go.uber.org/zap"
)

// SessionHandle is the transport-side view a room keeps for each member.
// Implementations must never block: Send enqueues or drops the frame, and a
// handle whose connection has died must swallow sends silently.
type SessionHandle interface {
	Send(data []byte)
	Disconnect()
}

// UserInfo tracks one room member.
type UserInfo struct {
	UserID   string
	UserName string
	Color    string

	session      SessionHandle // non-owning back-reference into transport
	joinedAt     time.Time
	lastActivity time.Time
	isActive     bool
}

// isGhost reports whether the member has been silent longer than timeout.
func (u *UserInfo) isGhost(now time.Time, timeout time.Duration) bool {
	return now.Sub(u.lastActivity) > timeout
}

// CursorState is the most recent pointer position for one member. Only the
// latest position is kept; trails are a client concern.
type CursorState struct {
	UserID     string
	X          float32
	Y          float32
	LastUpdate time.Time
	Visible    bool
}

// Room owns the authoritative state of one whiteboard: members, cursors,
// stroke history, and the sequence counter stamped on every broadcast.
type Room struct {
	ID       string
	password string

	mu      sync.RWMutex
	members map[string]*UserInfo
	cursors map[string]*CursorState
	strokes []*Stroke

	// seq lives outside mu so sequence numbers can be stamped whether or
	// not the caller already holds the room lock.
	seq atomic.Uint64

	createdAt time.Time
	onEmpty   func(roomID string)
	now       func() time.Time
}

// NewRoom creates an empty room. The password fixed here is the room's
// password for its whole lifetime; later joins are checked against it.
// onEmpty is invoked on its own goroutine whenever the last member leaves.
func NewRoom(id, password string, onEmpty func(roomID string)) *Room {
	return &Room{
		ID:        id,
		password:  password,
		members:   make(map[string]*UserInfo),
		cursors:   make(map[string]*CursorState),
		createdAt: time.Now(),
		onEmpty:   onEmpty,
		now:       time.Now,
	}
}

// ValidatePassword reports whether the supplied password opens this room.
// Rooms created without a password accept anything.
func (r *Room) ValidatePassword(password string) bool {
	if r.password == "" {
		return true
	}
	return r.password == password
}

// nextSequence issues the next broadcast sequence number. The first value a
// fresh room issues is 1.
func (r *Room) nextSequence() uint64 {
	return r.seq.Add(1)
}

// CurrentSequence returns the last issued sequence number without advancing
// it. Snapshots carry it so clients can line a snapshot up against the live
// event stream.
func (r *Room) CurrentSequence() uint64 {
	return r.seq.Load()
}

// AddParticipant inserts a member together with their origin cursor entry.
// It fails with ErrRoomFull once MaxUsersPerRoom members are present;
// inactive members still hold their slot.
func (r *Room) AddParticipant(u *UserInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addParticipantLocked(u)
}

func (r *Room) addParticipantLocked(u *UserInfo) error {
	if len(r.members) >= protocol.MaxUsersPerRoom {
		return protocol.ErrRoomFull
	}

	now := r.now()
	u.joinedAt = now
	u.lastActivity = now
	u.isActive = true
	r.members[u.UserID] = u
	r.cursors[u.UserID] = &CursorState{UserID: u.UserID, LastUpdate: now, Visible: true}

	metrics.RoomParticipants.WithLabelValues(r.ID).Set(float64(len(r.members)))
	return nil
}

// RemoveParticipant drops a member and their cursor. It is idempotent and
// reports whether the member was present.
func (r *Room) RemoveParticipant(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeParticipantLocked(userID)
}

func (r *Room) removeParticipantLocked(userID string) bool {
	if _, ok := r.members[userID]; !ok {
		return false
	}
	delete(r.members, userID)
	delete(r.cursors, userID)

	if len(r.members) > 0 {
		metrics.RoomParticipants.WithLabelValues(r.ID).Set(float64(len(r.members)))
	} else {
		metrics.RoomParticipants.DeleteLabelValues(r.ID)
	}
	return true
}

// Admit runs the whole join flow atomically under the room lock: capacity
// check, membership and origin cursor insertion, then the join messages.
// The joiner receives welcome (listing everyone but themselves) followed by
// the current board snapshot; existing peers receive user_joined.
func (r *Room) Admit(ctx context.Context, u *UserInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.addParticipantLocked(u); err != nil {
		return err
	}

	welcome, err := protocol.NewWelcome(u.UserID, u.Color, r.summariesLocked(u.UserID), r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build welcome message", zap.Error(err))
	} else if u.session != nil {
		u.session.Send(welcome)
	}

	state, err := r.snapshotMessageLocked()
	if err != nil {
		logging.Error(ctx, "Failed to build room_state snapshot", zap.Error(err))
	} else if u.session != nil {
		u.session.Send(state)
	}

	joined, err := protocol.NewUserJoined(u.UserID, u.UserName, u.Color, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build user_joined message", zap.Error(err))
	} else {
		r.broadcastRawLocked(joined, u.UserID)
	}

	logging.Info(ctx, "Participant joined room",
		zap.String("room", r.ID),
		zap.String("userId", u.UserID),
		zap.Int("participants", len(r.members)),
	)
	return nil
}

// Depart removes a member, tells the remaining peers, and fires onEmpty if
// the room emptied. Unknown members are a no-op so that an explicit leave
// and a connection drop can race safely.
func (r *Room) Depart(ctx context.Context, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.removeParticipantLocked(userID) {
		return
	}

	left, err := protocol.NewUserLeft(userID, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build user_left message", zap.Error(err))
	} else {
		r.broadcastRawLocked(left, "")
	}

	logging.Info(ctx, "Participant left room",
		zap.String("room", r.ID),
		zap.String("userId", userID),
		zap.Int("participants", len(r.members)),
	)

	if len(r.members) == 0 && r.onEmpty != nil {
		go r.onEmpty(r.ID)
	}
}

// UpdateCursor overwrites the member's cursor position and touches their
// activity clock. Unknown members are ignored.
func (r *Room) UpdateCursor(userID string, x, y float32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCursorLocked(userID, x, y)
}

func (r *Room) updateCursorLocked(userID string, x, y float32) bool {
	cursor, ok := r.cursors[userID]
	if !ok {
		return false
	}

	now := r.now()
	cursor.X, cursor.Y = x, y
	cursor.LastUpdate = now
	cursor.Visible = true
	r.touchLocked(userID, now)
	return true
}

// Touch marks the member active now. Every accepted mutation from a member
// routes through here.
func (r *Room) Touch(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(userID, r.now())
}

func (r *Room) touchLocked(userID string, now time.Time) {
	if u, ok := r.members[userID]; ok {
		u.lastActivity = now
		u.isActive = true
	}
}

// GetParticipant returns a copy of the member's info.
func (r *Room) GetParticipant(userID string) (UserInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.members[userID]
	if !ok {
		return UserInfo{}, false
	}
	return *u, true
}

// GetCursor returns a copy of the member's cursor state.
func (r *Room) GetCursor(userID string) (CursorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cursor, ok := r.cursors[userID]
	if !ok {
		return CursorState{}, false
	}
	return *cursor, true
}

// ParticipantCount reports the current number of members.
func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Summaries lists the current members in join order, skipping
// excludeUserID.
func (r *Room) Summaries(excludeUserID string) []protocol.UserSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summariesLocked(excludeUserID)
}

func (r *Room) summariesLocked(excludeUserID string) []protocol.UserSummary {
	members := make([]*UserInfo, 0, len(r.members))
	for _, u := range r.members {
		if u.UserID == excludeUserID {
			continue
		}
		members = append(members, u)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].joinedAt.Equal(members[j].joinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].joinedAt.Before(members[j].joinedAt)
	})

	users := make([]protocol.UserSummary, 0, len(members))
	for _, u := range members {
		users = append(users, protocol.UserSummary{
			UserID: u.UserID,
			Name:   u.UserName,
			Color:  u.Color,
		})
	}
	return users
}

// Broadcast fans data out to every member except excludeUserID. Pass "" to
// reach everyone.
func (r *Room) Broadcast(data []byte, excludeUserID string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.broadcastRawLocked(data, excludeUserID)
}

// broadcastRawLocked sends pre-serialized bytes to every live member except
// excludeUserID. Dead or missing session handles are skipped.
func (r *Room) broadcastRawLocked(data []byte, excludeUserID string) {
	for _, u := range r.members {
		if u.UserID == excludeUserID || u.session == nil {
			continue
		}
		u.session.Send(data)
	}
}

// Close disconnects every member. Membership cleanup then happens through
// the normal disconnect path of each session.
func (r *Room) Close(ctx context.Context, reason string) {
	r.mu.RLock()
	sessions := make([]SessionHandle, 0, len(r.members))
	for _, u := range r.members {
		if u.session != nil {
			sessions = append(sessions, u.session)
		}
	}
	r.mu.RUnlock()

	logging.Info(ctx, "Closing room",
		zap.String("room", r.ID),
		zap.String("reason", reason),
		zap.Int("participants", len(sessions)),
		zap.Duration("lifetime", time.Since(r.createdAt)),
	)

	for _, s := range sessions {
		s.Disconnect()
	}
}
