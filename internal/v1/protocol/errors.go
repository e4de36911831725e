package protocol

import "fmt"

// ErrorCode identifies a protocol failure category on the wire.
type ErrorCode string

const (
	// Room errors.
	CodeRoomNotFound    ErrorCode = "ROOM_NOT_FOUND"
	CodeRoomFull        ErrorCode = "ROOM_FULL"
	CodeInvalidPassword ErrorCode = "INVALID_PASSWORD"

	// Message errors.
	CodeMalformedMessage   ErrorCode = "MALFORMED_MESSAGE"
	CodeInvalidMessageType ErrorCode = "INVALID_MESSAGE_TYPE"
	CodeMissingField       ErrorCode = "MISSING_FIELD"
	CodeInvalidField       ErrorCode = "INVALID_FIELD"

	// Rate limiting.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// Drawing errors.
	CodeInvalidStroke  ErrorCode = "INVALID_STROKE"
	CodeStrokeTooLarge ErrorCode = "STROKE_TOO_LARGE"

	// Connection errors.
	CodeNotInRoom     ErrorCode = "NOT_IN_ROOM"
	CodeAlreadyInRoom ErrorCode = "ALREADY_IN_ROOM"

	// Internal errors.
	CodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error is a domain failure carrying a wire error code. Subsystems return
// these (usually wrapped) and the dispatcher decides whether the code is
// surfaced to the client as an error frame or only logged.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Canonical instances for each code, carrying the human-readable messages
// clients display. Match with errors.Is against a wrapped return, or
// extract the code with errors.As.
var (
	ErrRoomNotFound       = &Error{CodeRoomNotFound, "The requested room does not exist"}
	ErrRoomFull           = &Error{CodeRoomFull, "Room has reached maximum capacity (15 users)"}
	ErrInvalidPassword    = &Error{CodeInvalidPassword, "Incorrect room password"}
	ErrMalformedMessage   = &Error{CodeMalformedMessage, "Message format is invalid"}
	ErrInvalidMessageType = &Error{CodeInvalidMessageType, "Unknown message type"}
	ErrMissingField       = &Error{CodeMissingField, "Required field is missing"}
	ErrInvalidField       = &Error{CodeInvalidField, "Field value is invalid"}
	ErrRateLimited        = &Error{CodeRateLimited, "Too many messages, please slow down"}
	ErrInvalidStroke      = &Error{CodeInvalidStroke, "Stroke not found or not owned by you"}
	ErrStrokeTooLarge     = &Error{CodeStrokeTooLarge, "Stroke contains too many points"}
	ErrNotInRoom          = &Error{CodeNotInRoom, "You must join a room first"}
	ErrAlreadyInRoom      = &Error{CodeAlreadyInRoom, "You are already in a room"}
	ErrInternalError      = &Error{CodeInternalError, "An unexpected error occurred"}
)
