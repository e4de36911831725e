package room

import (
	"context"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"go.uber.org/zap"
)

// Stroke is one drawn path on the board. Points only grow while the stroke
// is open; once complete the stroke can only be translated as a whole, and
// only ever by its owner.
type Stroke struct {
	ID       string
	OwnerID  string
	Points   []protocol.Point
	Color    string
	Width    float32
	Complete bool
	Seq      uint64
}

// StrokeStart opens a new stroke owned by userID and announces it to the
// other members. Stroke ids are client-chosen; a colliding id leaves the
// older stroke first in scan order, so later mutations against the new one
// fail the ownership check and die quietly.
func (r *Room) StrokeStart(ctx context.Context, userID, strokeID, color string, width float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := &Stroke{
		ID:      strokeID,
		OwnerID: userID,
		Points:  []protocol.Point{},
		Color:   color,
		Width:   width,
		Seq:     r.nextSequence(),
	}
	r.addStrokeLocked(stroke)
	r.touchLocked(userID, r.now())
	metrics.StrokeActions.WithLabelValues("start").Inc()

	msg, err := protocol.NewStrokeStart(strokeID, userID, color, width, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build stroke_start message", zap.Error(err))
		return nil
	}
	r.broadcastRawLocked(msg, userID)
	return nil
}

// StrokeAdd appends points to an open stroke and relays just the new points
// to the other members. Only the owner may extend a stroke, and only while
// it is incomplete.
func (r *Room) StrokeAdd(ctx context.Context, userID, strokeID string, points []protocol.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := r.strokeLocked(strokeID)
	if stroke == nil || stroke.OwnerID != userID || stroke.Complete {
		return protocol.ErrInvalidStroke
	}
	if len(stroke.Points)+len(points) > protocol.MaxPointsPerStroke {
		return protocol.ErrStrokeTooLarge
	}

	stroke.Points = append(stroke.Points, points...)
	r.touchLocked(userID, r.now())
	metrics.StrokeActions.WithLabelValues("add").Inc()

	msg, err := protocol.NewStrokeAdd(strokeID, userID, points, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build stroke_add message", zap.Error(err))
		return nil
	}
	r.broadcastRawLocked(msg, userID)
	return nil
}

// StrokeEnd marks the stroke complete. Ending an already complete stroke is
// permitted and leaves the state untouched.
func (r *Room) StrokeEnd(ctx context.Context, userID, strokeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := r.strokeLocked(strokeID)
	if stroke == nil || stroke.OwnerID != userID {
		return protocol.ErrInvalidStroke
	}

	stroke.Complete = true
	r.touchLocked(userID, r.now())
	metrics.StrokeActions.WithLabelValues("end").Inc()

	msg, err := protocol.NewStrokeEnd(strokeID, userID, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build stroke_end message", zap.Error(err))
		return nil
	}
	r.broadcastRawLocked(msg, userID)
	return nil
}

// StrokeMove translates a completed stroke by (dx, dy) and relays the
// delta. Open strokes cannot be moved.
func (r *Room) StrokeMove(ctx context.Context, userID, strokeID string, dx, dy float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stroke := r.strokeLocked(strokeID)
	if stroke == nil || stroke.OwnerID != userID || !stroke.Complete {
		return protocol.ErrInvalidStroke
	}

	for i := range stroke.Points {
		stroke.Points[i].X += dx
		stroke.Points[i].Y += dy
	}
	r.touchLocked(userID, r.now())
	metrics.StrokeActions.WithLabelValues("move").Inc()

	msg, err := protocol.NewStrokeMove(strokeID, userID, dx, dy, r.nextSequence())
	if err != nil {
		logging.Error(ctx, "Failed to build stroke_move message", zap.Error(err))
		return nil
	}
	r.broadcastRawLocked(msg, userID)
	return nil
}

// AddStroke appends a stroke to the history, evicting from the front once
// the room exceeds MaxStrokesPerRoom.
func (r *Room) AddStroke(s *Stroke) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addStrokeLocked(s)
}

func (r *Room) addStrokeLocked(s *Stroke) {
	r.strokes = append(r.strokes, s)
	for len(r.strokes) > protocol.MaxStrokesPerRoom {
		r.strokes[0] = nil
		r.strokes = r.strokes[1:]
		metrics.StrokesEvicted.Inc()
	}
}

// GetStroke returns a copy of the first stroke matching id.
func (r *Room) GetStroke(strokeID string) (Stroke, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s := r.strokeLocked(strokeID); s != nil {
		return *s, true
	}
	return Stroke{}, false
}

// strokeLocked scans front to back, so for duplicated ids the oldest stroke
// wins, exactly as the history replays it.
func (r *Room) strokeLocked(strokeID string) *Stroke {
	for _, s := range r.strokes {
		if s.ID == strokeID {
			return s
		}
	}
	return nil
}

// StrokeCount reports how many strokes the history currently holds.
func (r *Room) StrokeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strokes)
}

// StrokesSnapshot returns the last limit strokes in insertion order. Point
// slices are copied so callers can hold them across later mutations.
func (r *Room) StrokesSnapshot(limit int) []protocol.StrokeState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strokeStatesLocked(limit)
}

func (r *Room) strokeStatesLocked(limit int) []protocol.StrokeState {
	start := 0
	if len(r.strokes) > limit {
		start = len(r.strokes) - limit
	}

	states := make([]protocol.StrokeState, 0, len(r.strokes)-start)
	for _, s := range r.strokes[start:] {
		states = append(states, protocol.StrokeState{
			StrokeID: s.ID,
			UserID:   s.OwnerID,
			Points:   append([]protocol.Point(nil), s.Points...),
			Color:    s.Color,
			Width:    s.Width,
			Complete: s.Complete,
		})
	}
	return states
}

// SnapshotMessage builds the room_state frame describing the current board.
// The envelope and payload both carry the last issued sequence so a late
// joiner can line the snapshot up against live events.
func (r *Room) SnapshotMessage() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotMessageLocked()
}

func (r *Room) snapshotMessageLocked() ([]byte, error) {
	return protocol.NewRoomState(r.strokeStatesLocked(protocol.SnapshotStrokeLimit), r.CurrentSequence())
}
