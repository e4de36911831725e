package transport

import (
	"context"
	"sync"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/ids"
	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/collabboard/collabboard/backend/go/internal/v1/room"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// sendQueueDepth bounds the per-session write queue. A peer that cannot
	// drain this many frames starts losing them instead of stalling the room.
	sendQueueDepth = 256

	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second
)

// wsConnection is the subset of *websocket.Conn the session touches, split
// out so pump tests can run against an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session owns one WebSocket connection: the read loop, the write queue,
// and the identity recorded by a successful join. It implements
// room.SessionHandle, so the room layer sees only Send and Disconnect.
type Session struct {
	id   string
	conn wsConnection

	registry   *room.Registry
	dispatcher *Dispatcher
	onClose    func(*Session)

	mu       sync.RWMutex // Protects identity fields and the closed flag
	room     *room.Room
	userID   string
	userName string
	color    string
	closed   bool

	send chan []byte
}

func newSession(conn wsConnection, registry *room.Registry, dispatcher *Dispatcher) *Session {
	return &Session{
		id:         ids.NewSessionID(),
		conn:       conn,
		registry:   registry,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendQueueDepth),
	}
}

// identity returns the joined room and user id. The room is nil until a
// join_room succeeds.
func (s *Session) identity() (*room.Room, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room, s.userID
}

// bindRoom records the identity a successful join assigned. user_left on
// close uses the recorded identity.
func (s *Session) bindRoom(res *room.JoinResult, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = res.Room
	s.userID = res.UserID
	s.userName = userName
	s.color = res.Color
}

// Send enqueues a frame for delivery. It never blocks: a full or closed
// queue drops the frame.
func (s *Session) Send(data []byte) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		logging.GetLogger().Debug("Skipping send to closed session", zap.String("sessionId", s.id))
		return
	}
	s.mu.RUnlock()

	// A concurrent Disconnect can close the queue between the check above
	// and the send below.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Send raced with disconnect", zap.String("sessionId", s.id), zap.Any("panic", r))
		}
	}()

	select {
	case s.send <- data:
	default:
		logging.Warn(context.Background(), "Session send queue full or closed, dropping frame", zap.String("sessionId", s.id))
	}
}

// Disconnect closes the session. Safe to call from any goroutine and more
// than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// Closing the queue lets writePump drain it, send the close frame, and
	// close the connection.
	close(s.send)
}

// leave releases the session's room membership, if any.
func (s *Session) leave(ctx context.Context) {
	r, userID := s.identity()
	if r == nil {
		return
	}
	ctx = logging.WithRoomID(logging.WithUserID(ctx, userID), r.ID)
	s.registry.Leave(ctx, r, userID)
	s.mu.RLock()
	name := s.userName
	s.mu.RUnlock()
	logging.Info(ctx, "Session left room", zap.String("userName", name))
}

// readPump reads frames until the connection dies or the heartbeat window
// (HeartbeatTimeout) passes without any inbound frame, then runs the full
// leave and close path.
func (s *Session) readPump() {
	ctx := logging.WithSessionID(context.Background(), s.id)
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "Recovered from panic in session read loop", zap.Any("panic", r))
		}
		s.leave(ctx)
		s.Disconnect()
		s.conn.Close()
		metrics.DecConnection()
		if s.onClose != nil {
			s.onClose(s)
		}
	}()

	s.conn.SetReadLimit(protocol.MaxMessageSize)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(protocol.HeartbeatTimeout))
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			logging.GetLogger().Debug("Session read loop ended", zap.String("sessionId", s.id), zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.dispatcher.Dispatch(ctx, s, data)
	}
}

// writePump drains the send queue onto the socket. All writes happen here,
// so frames reach the peer in enqueue order.
func (s *Session) writePump() {
	defer s.conn.Close()

	for {
		message, ok := <-s.send
		if !ok {
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "Error writing to session", zap.String("sessionId", s.id), zap.Error(err))
			return
		}
	}
}
