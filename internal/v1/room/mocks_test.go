package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/stretchr/testify/require"
)

// fakeSession records every frame a room hands it and satisfies
// SessionHandle without any network.
type fakeSession struct {
	mu           sync.Mutex
	frames       [][]byte
	disconnected bool
}

func (s *fakeSession) Send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), data...))
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

func (s *fakeSession) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// Envelopes parses every recorded frame.
func (s *fakeSession) Envelopes(t *testing.T) []*protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	envs := make([]*protocol.Envelope, 0, len(s.frames))
	for _, raw := range s.frames {
		env, err := protocol.Parse(raw)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	return envs
}

// EnvelopesOfType filters the recorded frames down to one message type.
func (s *fakeSession) EnvelopesOfType(t *testing.T, mt protocol.MessageType) []*protocol.Envelope {
	t.Helper()

	var envs []*protocol.Envelope
	for _, env := range s.Envelopes(t) {
		if env.Type == mt {
			envs = append(envs, env)
		}
	}
	return envs
}

// Types lists the message types of the recorded frames in arrival order.
func (s *fakeSession) Types(t *testing.T) []protocol.MessageType {
	t.Helper()

	var types []protocol.MessageType
	for _, env := range s.Envelopes(t) {
		types = append(types, env.Type)
	}
	return types
}

func (s *fakeSession) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

// decodeData unmarshals an envelope payload into the given event type.
func decodeData[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// addMember inserts a participant directly, bypassing the join messaging,
// for tests that only care about room state.
func addMember(t *testing.T, r *Room, userID, userName, color string) (*UserInfo, *fakeSession) {
	t.Helper()

	sess := &fakeSession{}
	u := &UserInfo{UserID: userID, UserName: userName, Color: color, session: sess}
	require.NoError(t, r.AddParticipant(u))
	return u, sess
}
