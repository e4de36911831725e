// Package ids generates the prefixed identifiers used across the protocol.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// ShortHex returns the first n hex characters of a fresh UUIDv4,
// with the dashes stripped. n is capped at 32.
func ShortHex(n int) string {
	if n <= 0 {
		return ""
	}
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > len(raw) {
		n = len(raw)
	}
	return raw[:n]
}

// NewRoomID returns a room id of the form "room-xxxxxxxx".
func NewRoomID() string {
	return "room-" + ShortHex(8)
}

// NewUserID returns a user id of the form "user-<uuid>".
// User ids are globally unique for the process lifetime.
func NewUserID() string {
	return "user-" + uuid.New().String()
}

// NewStrokeID returns a stroke id of the form "stroke-xxxxxxxx".
// Servers accept client-chosen stroke ids; this helper exists for
// tests and tooling that need well-formed ones.
func NewStrokeID() string {
	return "stroke-" + ShortHex(8)
}

// NewSessionID returns an id for one WebSocket connection, used in logs.
func NewSessionID() string {
	return "sess-" + ShortHex(8)
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
