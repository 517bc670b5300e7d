package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func roomMessage(room, from, text string) *ChatMessage {
	return &ChatMessage{Room: room, From: from, Text: text}
}

func TestAppendMessageFillsGeneratedFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := roomMessage("CS101", "alice", "hello")
	require.NoError(t, s.AppendMessage(ctx, msg))

	assert.Len(t, msg.ID, 26)
	assert.NotZero(t, msg.Seq)
	assert.False(t, msg.CreatedAt.IsZero())
	_, err := time.Parse("15:04:05", msg.Timestamp)
	assert.NoError(t, err)
}

func TestAppendMessageRejectsBadShape(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := map[string]*ChatMessage{
		"no sender":             {Room: "r", Text: "x"},
		"public without room":   {From: "a", Text: "x"},
		"public with recipient": {From: "a", Room: "r", To: "b", Text: "x"},
		"private without to":    {From: "a", Private: true, Text: "x"},
		"private with room":     {From: "a", To: "b", Room: "r", Private: true, Text: "x"},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.AppendMessage(ctx, msg), ErrInvalidMessage)
		})
	}
}

func TestRecentRoomMessagesNewestFirstAndPublicOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, s.AppendMessage(ctx, roomMessage("CS101", "alice", fmt.Sprintf("m%02d", i))))
	}
	require.NoError(t, s.AppendMessage(ctx, roomMessage("MATH", "bob", "other room")))
	require.NoError(t, s.AppendMessage(ctx, &ChatMessage{From: "alice", To: "bob", Private: true, Text: "secret"}))

	got, err := s.RecentRoomMessages(ctx, "CS101", 20)
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, "m24", got[0].Text)
	assert.Equal(t, "m05", got[19].Text)
	for _, m := range got {
		assert.False(t, m.Private)
		assert.Equal(t, "CS101", m.Room)
	}

	empty, err := s.RecentRoomMessages(ctx, "nowhere", 20)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPrivateHistoryBothDirectionsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, &ChatMessage{From: "alice", To: "bob", Private: true, Text: "1"}))
	require.NoError(t, s.AppendMessage(ctx, &ChatMessage{From: "carol", To: "bob", Private: true, Text: "noise"}))
	require.NoError(t, s.AppendMessage(ctx, &ChatMessage{From: "bob", To: "alice", Private: true, Text: "2"}))
	require.NoError(t, s.AppendMessage(ctx, &ChatMessage{From: "alice", To: "bob", Private: true, Text: "3"}))

	got, err := s.PrivateHistory(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].Text, got[1].Text, got[2].Text})
}

func TestMembershipIsStickyAndDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMembership(ctx, "CS101", "bob"))
	require.NoError(t, s.UpsertMembership(ctx, "CS101", "alice"))
	require.NoError(t, s.UpsertMembership(ctx, "CS101", "bob"))
	require.NoError(t, s.UpsertMembership(ctx, "MATH", "carol"))

	members, err := s.RoomMembers(ctx, "CS101")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, members)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	later := &LiveSession{Title: "Later", Host: "h", ScheduledAt: base.Add(2 * time.Hour)}
	sooner := &LiveSession{Title: "Sooner", Host: "h", ScheduledAt: base}
	ended := &LiveSession{Title: "Done", Host: "h", ScheduledAt: base.Add(-time.Hour)}
	for _, ls := range []*LiveSession{later, sooner, ended} {
		require.NoError(t, s.CreateSession(ctx, ls))
		assert.NotEmpty(t, ls.ID)
		assert.Equal(t, StatusScheduled, ls.Status)
	}

	_, err := s.UpdateSessionStatus(ctx, ended.ID, StatusEnded)
	require.NoError(t, err)

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Sooner", list[0].Title)
	assert.Equal(t, "Later", list[1].Title)

	live, err := s.UpdateSessionStatus(ctx, sooner.ID, StatusLive)
	require.NoError(t, err)
	assert.Equal(t, StatusLive, live.Status)

	_, err = s.UpdateSessionStatus(ctx, "missing", StatusLive)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.UpdateSessionStatus(ctx, sooner.ID, SessionStatus("paused"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddParticipantIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ls := &LiveSession{Title: "Office hours", Host: "prof", ScheduledAt: time.Now()}
	require.NoError(t, s.CreateSession(ctx, ls))

	require.NoError(t, s.AddParticipant(ctx, ls.ID, "alice"))
	require.NoError(t, s.AddParticipant(ctx, ls.ID, "bob"))
	require.NoError(t, s.AddParticipant(ctx, ls.ID, "alice"))

	got, err := s.GetSession(ctx, ls.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)

	assert.ErrorIs(t, s.AddParticipant(ctx, "missing", "alice"), ErrNotFound)
}

func TestParseSessionStatus(t *testing.T) {
	st, err := ParseSessionStatus(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, StatusLive, st)

	_, err = ParseSessionStatus("ende")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mongo"})
	assert.Error(t, err)
}
