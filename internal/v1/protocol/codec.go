package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

var emptyObject = json.RawMessage(`{}`)

// Parse decodes one raw text frame into an Envelope. Only a root that is
// not a JSON object fails (ErrMalformedMessage); a missing or non-string
// type tag becomes TypeUnknown, a missing or malformed seq or timestamp
// defaults to zero, and a missing or non-object data defaults to {} so the
// per-type decoders see consistent input.
func Parse(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	env := &Envelope{Data: emptyObject}

	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err == nil {
		env.Type = MessageTypeFromString(typ)
	}
	_ = json.Unmarshal(fields["seq"], &env.Seq)
	_ = json.Unmarshal(fields["timestamp"], &env.Timestamp)

	if data, ok := fields["data"]; ok && isJSONObject(data) {
		env.Data = data
	}
	return env, nil
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}

// --- Per-Type Decoders ---

// DecodeJoinRoom validates and extracts join_room data.
func DecodeJoinRoom(data json.RawMessage) (*JoinRoomData, error) {
	var raw struct {
		RoomID   *string `json:"roomId"`
		UserName *string `json:"userName"`
		Password string  `json:"password"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("join_room: %w: %v", ErrInvalidField, err)
	}
	if raw.RoomID == nil || raw.UserName == nil {
		return nil, fmt.Errorf("join_room: %w", ErrMissingField)
	}
	return &JoinRoomData{RoomID: *raw.RoomID, UserName: *raw.UserName, Password: raw.Password}, nil
}

// DecodeCursorMove validates and extracts cursor_move data.
func DecodeCursorMove(data json.RawMessage) (*CursorMoveData, error) {
	var raw struct {
		X *float32 `json:"x"`
		Y *float32 `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cursor_move: %w: %v", ErrInvalidField, err)
	}
	if raw.X == nil || raw.Y == nil {
		return nil, fmt.Errorf("cursor_move: %w", ErrMissingField)
	}
	return &CursorMoveData{X: *raw.X, Y: *raw.Y}, nil
}

// DecodeStrokeStart validates and extracts stroke_start data.
func DecodeStrokeStart(data json.RawMessage) (*StrokeStartData, error) {
	var raw struct {
		StrokeID *string  `json:"strokeId"`
		Color    *string  `json:"color"`
		Width    *float32 `json:"width"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("stroke_start: %w: %v", ErrInvalidField, err)
	}
	if raw.StrokeID == nil || raw.Color == nil || raw.Width == nil {
		return nil, fmt.Errorf("stroke_start: %w", ErrMissingField)
	}
	return &StrokeStartData{StrokeID: *raw.StrokeID, Color: *raw.Color, Width: *raw.Width}, nil
}

// DecodeStrokeAdd validates and extracts stroke_add data.
func DecodeStrokeAdd(data json.RawMessage) (*StrokeAddData, error) {
	var raw struct {
		StrokeID *string  `json:"strokeId"`
		Points   *[]Point `json:"points"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("stroke_add: %w: %v", ErrInvalidField, err)
	}
	if raw.StrokeID == nil || raw.Points == nil {
		return nil, fmt.Errorf("stroke_add: %w", ErrMissingField)
	}
	return &StrokeAddData{StrokeID: *raw.StrokeID, Points: *raw.Points}, nil
}

// DecodeStrokeEnd validates and extracts stroke_end data.
func DecodeStrokeEnd(data json.RawMessage) (*StrokeEndData, error) {
	var raw struct {
		StrokeID *string `json:"strokeId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("stroke_end: %w: %v", ErrInvalidField, err)
	}
	if raw.StrokeID == nil {
		return nil, fmt.Errorf("stroke_end: %w", ErrMissingField)
	}
	return &StrokeEndData{StrokeID: *raw.StrokeID}, nil
}

// DecodeStrokeMove validates and extracts stroke_move data.
func DecodeStrokeMove(data json.RawMessage) (*StrokeMoveData, error) {
	var raw struct {
		StrokeID *string  `json:"strokeId"`
		DX       *float32 `json:"dx"`
		DY       *float32 `json:"dy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("stroke_move: %w: %v", ErrInvalidField, err)
	}
	if raw.StrokeID == nil || raw.DX == nil || raw.DY == nil {
		return nil, fmt.Errorf("stroke_move: %w", ErrMissingField)
	}
	return &StrokeMoveData{StrokeID: *raw.StrokeID, DX: *raw.DX, DY: *raw.DY}, nil
}

// --- Outbound Constructors ---

func newMessage(t MessageType, seq uint64, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", t, err)
	}
	return json.Marshal(Envelope{
		Type:      t,
		Seq:       seq,
		Timestamp: time.Now().UnixMilli(),
		Data:      payload,
	})
}

// NewWelcome builds the join confirmation for a new member. users lists the
// members present before the join and marshals as [] when empty.
func NewWelcome(userID, color string, users []UserSummary, seq uint64) ([]byte, error) {
	if users == nil {
		users = []UserSummary{}
	}
	return newMessage(TypeWelcome, seq, WelcomeEvent{UserID: userID, Color: color, Users: users})
}

// NewUserJoined builds the join announcement for existing peers.
func NewUserJoined(userID, name, color string, seq uint64) ([]byte, error) {
	return newMessage(TypeUserJoined, seq, UserJoinedEvent{UserID: userID, Name: name, Color: color})
}

// NewUserLeft builds the departure announcement.
func NewUserLeft(userID string, seq uint64) ([]byte, error) {
	return newMessage(TypeUserLeft, seq, UserLeftEvent{UserID: userID})
}

// NewCursorMove builds a cursor position broadcast.
func NewCursorMove(userID string, x, y float32, seq uint64) ([]byte, error) {
	return newMessage(TypeCursorMove, seq, CursorMoveEvent{UserID: userID, X: x, Y: y})
}

// NewStrokeStart builds a stroke opening broadcast.
func NewStrokeStart(strokeID, userID, color string, width float32, seq uint64) ([]byte, error) {
	return newMessage(TypeStrokeStart, seq, StrokeStartEvent{
		StrokeID: strokeID, UserID: userID, Color: color, Width: width,
	})
}

// NewStrokeAdd builds a point append broadcast. points marshals as [] when
// empty.
func NewStrokeAdd(strokeID, userID string, points []Point, seq uint64) ([]byte, error) {
	if points == nil {
		points = []Point{}
	}
	return newMessage(TypeStrokeAdd, seq, StrokeAddEvent{StrokeID: strokeID, UserID: userID, Points: points})
}

// NewStrokeEnd builds a stroke completion broadcast.
func NewStrokeEnd(strokeID, userID string, seq uint64) ([]byte, error) {
	return newMessage(TypeStrokeEnd, seq, StrokeEndEvent{StrokeID: strokeID, UserID: userID})
}

// NewStrokeMove builds a stroke translation broadcast.
func NewStrokeMove(strokeID, userID string, dx, dy float32, seq uint64) ([]byte, error) {
	return newMessage(TypeStrokeMove, seq, StrokeMoveEvent{
		StrokeID: strokeID, UserID: userID, DX: dx, DY: dy,
	})
}

// NewRoomState builds the board snapshot for a joiner. The envelope seq is
// the snapshot sequence itself.
func NewRoomState(strokes []StrokeState, snapshotSeq uint64) ([]byte, error) {
	if strokes == nil {
		strokes = []StrokeState{}
	}
	return newMessage(TypeRoomState, snapshotSeq, RoomStateEvent{Strokes: strokes, SnapshotSeq: snapshotSeq})
}

// NewPong builds a heartbeat reply echoing the client's seq.
func NewPong(seq uint64) ([]byte, error) {
	return newMessage(TypePong, seq, struct{}{})
}

// NewErrorMessage builds an error frame from a protocol error.
func NewErrorMessage(perr *Error, seq uint64) ([]byte, error) {
	return newMessage(TypeError, seq, ErrorEvent{Code: perr.Code, Message: perr.Message})
}
