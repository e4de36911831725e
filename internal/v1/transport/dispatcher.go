package transport

import (
	"context"
	"errors"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/metrics"
	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/collabboard/collabboard/backend/go/internal/v1/room"
	"go.uber.org/zap"
)

// Message outcomes recorded on the websocket_messages_total counter.
const (
	statusOK      = "ok"
	statusError   = "error"   // error frame sent to the originator
	statusDropped = "dropped" // accepted for parsing, then discarded
	statusIgnored = "ignored" // membership-gated message from an unjoined session
)

// Dispatcher routes every inbound frame. One instance serves all sessions;
// it owns no state beyond the registry reference.
//
// Error policy: parse failures, unknown types, and join failures are
// reported to the originator as error frames. Bad or rejected drawing and
// cursor messages are logged and dropped without a reply, so a buggy or
// hostile client cannot turn every tick into a response.
type Dispatcher struct {
	registry *room.Registry
}

func NewDispatcher(registry *room.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch processes one raw frame from s.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, raw []byte) {
	start := time.Now()
	metrics.MessageSizeBytes.Observe(float64(len(raw)))

	env, err := protocol.Parse(raw)
	if err != nil {
		logging.Warn(ctx, "Rejecting unparseable frame", zap.Error(err))
		d.sendError(s, protocol.ErrMalformedMessage)
		metrics.WebsocketMessages.WithLabelValues("unknown", statusError).Inc()
		return
	}

	r, userID := s.identity()
	if userID != "" {
		ctx = logging.WithRoomID(logging.WithUserID(ctx, userID), r.ID)
	}

	label := string(env.Type)
	if env.Type == protocol.TypeUnknown {
		label = "unknown"
	}
	status := d.route(ctx, s, r, userID, env)
	metrics.WebsocketMessages.WithLabelValues(label, status).Inc()
	metrics.MessageProcessingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (d *Dispatcher) route(ctx context.Context, s *Session, r *room.Room, userID string, env *protocol.Envelope) string {
	if env.Type != protocol.TypeJoinRoom && userID == "" {
		// Every other message requires membership. No reply: a client that
		// skipped the join handshake gets nothing to probe with.
		logging.GetLogger().Debug("Ignoring message from unjoined session",
			zap.String("sessionId", s.id), zap.String("type", string(env.Type)))
		return statusIgnored
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		return d.handleJoin(ctx, s, r, env)
	case protocol.TypePing:
		return d.handlePing(s, env)
	case protocol.TypeCursorMove:
		return d.handleCursorMove(ctx, s, r, userID, env)
	case protocol.TypeStrokeStart, protocol.TypeStrokeAdd, protocol.TypeStrokeEnd, protocol.TypeStrokeMove:
		return d.handleStroke(ctx, r, userID, env)
	default:
		// Unrecognized tags and server-to-client tags echoed back.
		d.sendError(s, protocol.ErrInvalidMessageType)
		return statusError
	}
}

func (d *Dispatcher) handleJoin(ctx context.Context, s *Session, joined *room.Room, env *protocol.Envelope) string {
	if joined != nil {
		d.sendError(s, protocol.ErrAlreadyInRoom)
		return statusError
	}

	data, err := protocol.DecodeJoinRoom(env.Data)
	if err != nil {
		logging.Warn(ctx, "Rejecting join with bad fields", zap.Error(err))
		d.sendError(s, protocol.ErrMissingField)
		return statusError
	}

	res, err := d.registry.Join(ctx, s, data.RoomID, data.UserName, data.Password)
	if err != nil {
		var perr *protocol.Error
		if errors.As(err, &perr) {
			d.sendError(s, perr)
		} else {
			logging.Error(ctx, "Join failed unexpectedly", zap.Error(err))
			d.sendError(s, protocol.ErrInternalError)
		}
		return statusError
	}

	s.bindRoom(res, data.UserName)
	logging.Info(ctx, "Session joined room",
		zap.String("sessionId", s.id),
		zap.String("roomId", data.RoomID),
		zap.String("userId", res.UserID),
		zap.String("color", res.Color))
	return statusOK
}

func (d *Dispatcher) handlePing(s *Session, env *protocol.Envelope) string {
	// The pong echoes the client's seq so it can pair replies with pings.
	msg, err := protocol.NewPong(env.Seq)
	if err != nil {
		return statusDropped
	}
	s.Send(msg)
	return statusOK
}

func (d *Dispatcher) handleCursorMove(ctx context.Context, s *Session, r *room.Room, userID string, env *protocol.Envelope) string {
	data, err := protocol.DecodeCursorMove(env.Data)
	if err != nil {
		logging.Warn(ctx, "Dropping cursor update with bad fields", zap.Error(err))
		return statusDropped
	}
	if !d.registry.Presence().CursorMove(ctx, r, userID, data.X, data.Y) {
		return statusDropped
	}
	return statusOK
}

func (d *Dispatcher) handleStroke(ctx context.Context, r *room.Room, userID string, env *protocol.Envelope) string {
	var err error
	switch env.Type {
	case protocol.TypeStrokeStart:
		var data *protocol.StrokeStartData
		if data, err = protocol.DecodeStrokeStart(env.Data); err == nil {
			err = r.StrokeStart(ctx, userID, data.StrokeID, data.Color, data.Width)
		}
	case protocol.TypeStrokeAdd:
		var data *protocol.StrokeAddData
		if data, err = protocol.DecodeStrokeAdd(env.Data); err == nil {
			err = r.StrokeAdd(ctx, userID, data.StrokeID, data.Points)
		}
	case protocol.TypeStrokeEnd:
		var data *protocol.StrokeEndData
		if data, err = protocol.DecodeStrokeEnd(env.Data); err == nil {
			err = r.StrokeEnd(ctx, userID, data.StrokeID)
		}
	case protocol.TypeStrokeMove:
		var data *protocol.StrokeMoveData
		if data, err = protocol.DecodeStrokeMove(env.Data); err == nil {
			err = r.StrokeMove(ctx, userID, data.StrokeID, data.DX, data.DY)
		}
	}
	if err != nil {
		logging.Warn(ctx, "Dropping stroke action",
			zap.String("type", string(env.Type)), zap.Error(err))
		return statusDropped
	}
	return statusOK
}

// sendError emits an error frame to the originator. Error frames carry seq 0
// because they sit outside any room's broadcast stream.
func (d *Dispatcher) sendError(s *Session, perr *protocol.Error) {
	msg, err := protocol.NewErrorMessage(perr, 0)
	if err != nil {
		logging.Error(context.Background(), "Failed to build error frame", zap.Error(err))
		return
	}
	metrics.ErrorsSent.WithLabelValues(string(perr.Code)).Inc()
	s.Send(msg)
}
