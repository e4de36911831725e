package transport

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/collabboard/collabboard/backend/go/internal/v1/room"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn implements wsConnection for pump tests. Reads are scripted
// through a channel; writes and deadline calls are recorded.
type fakeConn struct {
	reads chan readResult

	mu            sync.Mutex
	writes        [][]byte
	writeTypes    []int
	writeErr      error
	closed        bool
	readLimit     int64
	readDeadlines []time.Time
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan readResult, 32)}
}

func (c *fakeConn) queue(messageType int, data []byte) {
	c.reads <- readResult{messageType: messageType, data: data}
}

// endRead terminates a read pump blocked on this conn.
func (c *fakeConn) endRead() {
	c.reads <- readResult{err: io.EOF}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	r, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return r.messageType, r.data, r.err
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writeTypes = append(c.writeTypes, messageType)
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadlines = append(c.readDeadlines, t)
	return nil
}

func (c *fakeConn) SetWriteDeadline(_ time.Time) error { return nil }

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) WriteTypes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.writeTypes))
	copy(out, c.writeTypes)
	return out
}

func (c *fakeConn) ReadLimit() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLimit
}

func (c *fakeConn) ReadDeadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.readDeadlines))
	copy(out, c.readDeadlines)
	return out
}

// newTestSession builds a session whose outbound frames stay in its buffered
// queue. No pumps run; tests inspect the queue directly.
func newTestSession(reg *room.Registry) (*Session, *fakeConn) {
	conn := newFakeConn()
	return newSession(conn, reg, NewDispatcher(reg)), conn
}

// drainFrames empties the session's send queue and parses each frame. It
// also copes with a queue already closed by Disconnect.
func drainFrames(t *testing.T, s *Session) []*protocol.Envelope {
	t.Helper()
	var envs []*protocol.Envelope
	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return envs
			}
			env, err := protocol.Parse(data)
			require.NoError(t, err)
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

func framesOfType(envs []*protocol.Envelope, mt protocol.MessageType) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, env := range envs {
		if env.Type == mt {
			out = append(out, env)
		}
	}
	return out
}

// decodeData unmarshals an envelope payload into T.
func decodeData[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
