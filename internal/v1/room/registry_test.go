package room

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/collabboard/collabboard/backend/go/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinCreatesRoomAndDeliversJoinFlow(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	res1, err := reg.Join(ctx, s1, "room-1", "Alice", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res1.UserID, "user-"))
	assert.Equal(t, protocol.ColorPalette[0], res1.Color)
	assert.Equal(t, 1, reg.RoomCount())

	got, ok := reg.Get("room-1")
	require.True(t, ok)
	assert.Same(t, res1.Room, got)

	envs := s1.Envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, protocol.TypeWelcome, envs[0].Type)
	assert.Equal(t, protocol.TypeRoomState, envs[1].Type)
	welcome := decodeData[protocol.WelcomeEvent](t, envs[0])
	assert.Equal(t, res1.UserID, welcome.UserID)
	assert.Empty(t, welcome.Users)

	s2 := &fakeSession{}
	res2, err := reg.Join(ctx, s2, "room-1", "Bob", "")
	require.NoError(t, err)
	assert.Same(t, res1.Room, res2.Room)
	assert.Equal(t, protocol.ColorPalette[1], res2.Color)

	welcome2 := decodeData[protocol.WelcomeEvent](t, s2.EnvelopesOfType(t, protocol.TypeWelcome)[0])
	require.Len(t, welcome2.Users, 1)
	assert.Equal(t, protocol.UserSummary{UserID: res1.UserID, Name: "Alice", Color: res1.Color}, welcome2.Users[0])

	joined := s1.EnvelopesOfType(t, protocol.TypeUserJoined)
	require.Len(t, joined, 1)
	event := decodeData[protocol.UserJoinedEvent](t, joined[0])
	assert.Equal(t, res2.UserID, event.UserID)
	assert.Equal(t, "Bob", event.Name)
}

func TestRegistry_PasswordGate(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	_, err := reg.Join(ctx, s1, "locked", "Alice", "p")
	require.NoError(t, err)

	s2 := &fakeSession{}
	_, err = reg.Join(ctx, s2, "locked", "Bob", "")
	assert.ErrorIs(t, err, protocol.ErrInvalidPassword)
	_, err = reg.Join(ctx, s2, "locked", "Bob", "x")
	assert.ErrorIs(t, err, protocol.ErrInvalidPassword)
	assert.Zero(t, s2.FrameCount(), "rejected joiners receive no join messages")

	room, _ := reg.Get("locked")
	assert.Equal(t, 1, room.ParticipantCount(), "failed joins must not change membership")

	// The password fixed at creation keeps working.
	s3 := &fakeSession{}
	_, err = reg.Join(ctx, s3, "locked", "Carol", "p")
	require.NoError(t, err)
	assert.Equal(t, 2, room.ParticipantCount())
}

func TestRegistry_RoomFull(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)
	defer reg.Shutdown(ctx)

	for i := 0; i < protocol.MaxUsersPerRoom; i++ {
		_, err := reg.Join(ctx, &fakeSession{}, "room-2", fmt.Sprintf("User %d", i), "")
		require.NoError(t, err)
	}

	_, err := reg.Join(ctx, &fakeSession{}, "room-2", "Overflow", "")
	assert.ErrorIs(t, err, protocol.ErrRoomFull)

	room, _ := reg.Get("room-2")
	assert.Equal(t, protocol.MaxUsersPerRoom, room.ParticipantCount())
}

func TestRegistry_LeaveBroadcastsAndDeletesAfterGrace(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(50 * time.Millisecond)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	res1, err := reg.Join(ctx, s1, "room-3", "Alice", "")
	require.NoError(t, err)
	s2 := &fakeSession{}
	res2, err := reg.Join(ctx, s2, "room-3", "Bob", "")
	require.NoError(t, err)

	reg.Leave(ctx, res1.Room, res1.UserID)

	left := s2.EnvelopesOfType(t, protocol.TypeUserLeft)
	require.Len(t, left, 1)
	assert.Equal(t, res1.UserID, decodeData[protocol.UserLeftEvent](t, left[0]).UserID)
	assert.Equal(t, 1, reg.RoomCount(), "an occupied room is never deleted")

	reg.Leave(ctx, res2.Room, res2.UserID)
	require.Eventually(t, func() bool { return reg.RoomCount() == 0 },
		2*time.Second, 10*time.Millisecond, "empty room must be deleted after the grace period")
}

func TestRegistry_RejoinWithinGracePreservesBoard(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(200 * time.Millisecond)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	res1, err := reg.Join(ctx, s1, "room-4", "Alice", "")
	require.NoError(t, err)
	require.NoError(t, res1.Room.StrokeStart(ctx, res1.UserID, "s1", "#000000", 2))
	require.NoError(t, res1.Room.StrokeEnd(ctx, res1.UserID, "s1"))

	reg.Leave(ctx, res1.Room, res1.UserID)

	s2 := &fakeSession{}
	res2, err := reg.Join(ctx, s2, "room-4", "Bob", "")
	require.NoError(t, err)
	assert.Same(t, res1.Room, res2.Room, "rejoin within the grace period lands in the same room")

	state := decodeData[protocol.RoomStateEvent](t, s2.EnvelopesOfType(t, protocol.TypeRoomState)[0])
	require.Len(t, state.Strokes, 1)
	assert.Equal(t, "s1", state.Strokes[0].StrokeID)

	assert.Never(t, func() bool { return reg.RoomCount() == 0 },
		500*time.Millisecond, 50*time.Millisecond, "cancelled grace timer must not delete the room")
}

func TestRegistry_GraceExpiryYieldsFreshRoom(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(50 * time.Millisecond)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	res1, err := reg.Join(ctx, s1, "room-5", "Alice", "")
	require.NoError(t, err)
	require.NoError(t, res1.Room.StrokeStart(ctx, res1.UserID, "s1", "#000000", 2))

	reg.Leave(ctx, res1.Room, res1.UserID)
	require.Eventually(t, func() bool { return reg.RoomCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	s2 := &fakeSession{}
	res2, err := reg.Join(ctx, s2, "room-5", "Bob", "")
	require.NoError(t, err)
	assert.NotSame(t, res1.Room, res2.Room)

	state := decodeData[protocol.RoomStateEvent](t, s2.EnvelopesOfType(t, protocol.TypeRoomState)[0])
	assert.Empty(t, state.Strokes, "a reaped room leaves no board behind")
}

func TestRegistry_FailedJoinRearmsCleanup(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(150 * time.Millisecond)
	defer reg.Shutdown(ctx)

	s1 := &fakeSession{}
	res1, err := reg.Join(ctx, s1, "vault", "Alice", "p")
	require.NoError(t, err)
	reg.Leave(ctx, res1.Room, res1.UserID)

	// The failed join cancels the pending cleanup on arrival; the room must
	// still be reaped afterwards.
	_, err = reg.Join(ctx, &fakeSession{}, "vault", "Mallory", "wrong")
	require.ErrorIs(t, err, protocol.ErrInvalidPassword)

	require.Eventually(t, func() bool { return reg.RoomCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestRegistry_ColorRotationWraps(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)
	defer reg.Shutdown(ctx)

	var colors []string
	for i := 0; i < protocol.MaxUsersPerRoom; i++ {
		res, err := reg.Join(ctx, &fakeSession{}, "room-a", fmt.Sprintf("User %d", i), "")
		require.NoError(t, err)
		colors = append(colors, res.Color)
	}
	// The index keeps advancing across rooms and wraps past the palette end.
	res, err := reg.Join(ctx, &fakeSession{}, "room-b", "Wrap", "")
	require.NoError(t, err)
	colors = append(colors, res.Color)

	for i, color := range colors {
		assert.Equal(t, protocol.ColorPalette[i%len(protocol.ColorPalette)], color, "join %d", i)
	}
}

func TestRegistry_SweepMarksGhosts(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)
	defer reg.Shutdown(ctx)

	res, err := reg.Join(ctx, &fakeSession{}, "room-6", "Alice", "")
	require.NoError(t, err)

	res.Room.now = func() time.Time {
		return time.Now().Add(protocol.GhostCursorTimeout + time.Second)
	}
	reg.sweep(ctx)

	u, ok := res.Room.GetParticipant(res.UserID)
	require.True(t, ok)
	assert.False(t, u.isActive)
	assert.Equal(t, 1, res.Room.ParticipantCount(), "ghosts keep holding their slot")
}

func TestRegistry_ShutdownClosesEverything(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(time.Minute)

	s1 := &fakeSession{}
	_, err := reg.Join(ctx, s1, "room-a", "Alice", "")
	require.NoError(t, err)
	s2 := &fakeSession{}
	_, err = reg.Join(ctx, s2, "room-b", "Bob", "")
	require.NoError(t, err)

	require.NoError(t, reg.Shutdown(ctx))
	assert.Zero(t, reg.RoomCount())
	assert.True(t, s1.Disconnected())
	assert.True(t, s2.Disconnected())

	// A second shutdown is a harmless no-op.
	require.NoError(t, reg.Shutdown(ctx))
}
