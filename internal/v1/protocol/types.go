// Package protocol defines the JSON wire contract shared by the server and
// every whiteboard client: the message envelope, the payload shapes for each
// message type, the protocol limits, and the error codes.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// --- Message Types ---

// MessageType tags every envelope on the wire.
type MessageType string

const (
	// Control messages (reliable, low frequency).
	TypeJoinRoom   MessageType = "join_room"
	TypeWelcome    MessageType = "welcome"
	TypeUserJoined MessageType = "user_joined"
	TypeUserLeft   MessageType = "user_left"

	// Presence messages (loss-tolerant, high frequency).
	TypeCursorMove MessageType = "cursor_move"

	// Drawing messages (reliable, event-driven).
	TypeStrokeStart MessageType = "stroke_start"
	TypeStrokeAdd   MessageType = "stroke_add"
	TypeStrokeEnd   MessageType = "stroke_end"
	TypeStrokeMove  MessageType = "stroke_move"

	// State messages (reliable, on-demand).
	TypeRoomState MessageType = "room_state"

	// Heartbeat messages (reliable, periodic).
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"

	// Error notifications.
	TypeError MessageType = "error"

	// TypeUnknown marks a missing, non-string, or unrecognized type tag.
	TypeUnknown MessageType = ""
)

// MessageTypeFromString maps a wire tag onto a MessageType, collapsing
// anything unrecognized to TypeUnknown.
func MessageTypeFromString(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeJoinRoom, TypeWelcome, TypeUserJoined, TypeUserLeft,
		TypeCursorMove,
		TypeStrokeStart, TypeStrokeAdd, TypeStrokeEnd, TypeStrokeMove,
		TypeRoomState, TypePing, TypePong, TypeError:
		return t
	}
	return TypeUnknown
}

// --- Protocol Constants ---

// Limits every conforming client and server share.
const (
	MaxUsersPerRoom     = 15
	MaxStrokesPerRoom   = 1000
	SnapshotStrokeLimit = 500

	MaxMessageSize     = 64 * 1024
	MaxPointsPerStroke = 10000

	HeartbeatInterval     = 10 * time.Second
	HeartbeatTimeout      = 30 * time.Second
	GhostCursorTimeout    = 3 * time.Second
	RateLimitMuteDuration = 10 * time.Second

	CursorUpdatesPerSecond = 20.0
	RateLimitBurstSize     = 5.0
)

// ColorPalette is the fixed rotation of participant colors. The registry
// hands them out round robin across the whole process.
var ColorPalette = [15]string{
	"#FF5733", "#33FF57", "#3357FF", "#FF33F5", "#F5FF33",
	"#33FFF5", "#FF8C33", "#8C33FF", "#33FF8C", "#FF338C",
	"#338CFF", "#8CFF33", "#FF3333", "#33FF33", "#3333FF",
}

// --- Envelope ---

// Envelope is the framing shared by every message in both directions:
// {"type":"...","seq":N,"timestamp":ms,"data":{...}}.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// --- Geometry ---

// Point is one x,y sample of a stroke polyline. On the wire it is a
// two-element array, not an object, to keep stroke payloads compact.
type Point struct {
	X float32
	Y float32
}

// MarshalJSON encodes the point as [x,y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float32{p.X, p.Y})
}

// UnmarshalJSON decodes [x,y], tolerating trailing extra elements.
func (p *Point) UnmarshalJSON(data []byte) error {
	var coords []float32
	if err := json.Unmarshal(data, &coords); err != nil {
		return err
	}
	if len(coords) < 2 {
		return fmt.Errorf("point has %d coordinates, need 2", len(coords))
	}
	p.X, p.Y = coords[0], coords[1]
	return nil
}

// --- Client -> Server Payloads ---

// JoinRoomData carries a join_room request. Password is optional on the
// wire and empty means "no password supplied".
type JoinRoomData struct {
	RoomID   string
	UserName string
	Password string
}

// CursorMoveData carries a client cursor position update.
type CursorMoveData struct {
	X float32
	Y float32
}

// StrokeStartData opens a new stroke.
type StrokeStartData struct {
	StrokeID string
	Color    string
	Width    float32
}

// StrokeAddData appends points to an open stroke.
type StrokeAddData struct {
	StrokeID string
	Points   []Point
}

// StrokeEndData marks a stroke complete.
type StrokeEndData struct {
	StrokeID string
}

// StrokeMoveData translates a completed stroke.
type StrokeMoveData struct {
	StrokeID string
	DX       float32
	DY       float32
}

// --- Server -> Client Payloads ---

// UserSummary is the per-member entry inside welcome payloads.
type UserSummary struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// WelcomeEvent confirms a join to the new member. Users lists the members
// already present, excluding the joiner.
type WelcomeEvent struct {
	UserID string        `json:"userId"`
	Color  string        `json:"color"`
	Users  []UserSummary `json:"users"`
}

// UserJoinedEvent announces a new member to existing peers.
type UserJoinedEvent struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// UserLeftEvent announces a departure.
type UserLeftEvent struct {
	UserID string `json:"userId"`
}

// CursorMoveEvent relays a cursor position with the mover's identity.
type CursorMoveEvent struct {
	UserID string  `json:"userId"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
}

// StrokeStartEvent relays a stroke opening.
type StrokeStartEvent struct {
	StrokeID string  `json:"strokeId"`
	UserID   string  `json:"userId"`
	Color    string  `json:"color"`
	Width    float32 `json:"width"`
}

// StrokeAddEvent relays appended points.
type StrokeAddEvent struct {
	StrokeID string  `json:"strokeId"`
	UserID   string  `json:"userId"`
	Points   []Point `json:"points"`
}

// StrokeEndEvent relays stroke completion.
type StrokeEndEvent struct {
	StrokeID string `json:"strokeId"`
	UserID   string `json:"userId"`
}

// StrokeMoveEvent relays a whole-stroke translation.
type StrokeMoveEvent struct {
	StrokeID string  `json:"strokeId"`
	UserID   string  `json:"userId"`
	DX       float32 `json:"dx"`
	DY       float32 `json:"dy"`
}

// StrokeState is one stroke inside a room_state snapshot.
type StrokeState struct {
	StrokeID string  `json:"strokeId"`
	UserID   string  `json:"userId"`
	Points   []Point `json:"points"`
	Color    string  `json:"color"`
	Width    float32 `json:"width"`
	Complete bool    `json:"complete"`
}

// RoomStateEvent is the board snapshot sent to late joiners. SnapshotSeq is
// the last sequence the room issued before the snapshot was taken.
type RoomStateEvent struct {
	Strokes     []StrokeState `json:"strokes"`
	SnapshotSeq uint64        `json:"snapshotSeq"`
}

// ErrorEvent is the payload of an error frame.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
