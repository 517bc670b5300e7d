package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

func TestSendPublicReachesWholeRoomIncludingSender(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	a := connect(t, c, "a")
	b := connect(t, c, "b")
	other := connect(t, c, "o")
	require.NoError(t, c.JoinRoom(ctx, "a", "alice", "CS101"))
	require.NoError(t, c.JoinRoom(ctx, "b", "bob", "CS101"))
	require.NoError(t, c.JoinRoom(ctx, "o", "oscar", "MATH"))

	require.NoError(t, c.Dispatch(ctx, "a", frame(t, EventSendMessage, SendMessageRequest{Text: "hello"})))

	for _, p := range []*fakePeer{a, b} {
		got := decodeInto[store.ChatMessage](t, p.last(t, EventReceiveMessage))
		assert.Equal(t, "hello", got.Text)
		assert.Equal(t, "alice", got.From)
		assert.Equal(t, "CS101", got.Room)
		assert.False(t, got.Private)
		assert.Equal(t, "14:05:06", got.Timestamp)
	}
	assert.Empty(t, other.named(t, EventReceiveMessage))

	stored := ms.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Text)
}

func TestSendPublicFromUnjoinedConnectionIsDropped(t *testing.T) {
	c, ms := newTestCoordinator(t)
	a := connect(t, c, "a")

	require.NoError(t, c.Dispatch(context.Background(), "a", frame(t, EventSendMessage, SendMessageRequest{Text: "hi"})))
	assert.Empty(t, a.named(t, EventReceiveMessage))
	assert.Empty(t, ms.stored())
}

func TestSendPublicEmptyTextIsDropped(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	a := connect(t, c, "a")
	require.NoError(t, c.JoinRoom(ctx, "a", "alice", "CS101"))

	require.NoError(t, c.Dispatch(ctx, "a", frame(t, EventSendMessage, SendMessageRequest{})))
	assert.Empty(t, a.named(t, EventReceiveMessage))
	assert.Empty(t, ms.stored())
}

func TestSendPublicInVideoSessionIsDropped(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	ms.sessions["S1"] = true
	a := connect(t, c, "a")
	require.NoError(t, c.JoinSession(ctx, "a", "alice", "S1"))

	require.NoError(t, c.SendPublic(ctx, "a", "hi"))
	assert.Empty(t, ms.stored())
	assert.Empty(t, a.named(t, EventReceiveMessage))
}

func TestSendPublicStillBroadcastsWhenAppendFails(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	a := connect(t, c, "a")
	require.NoError(t, c.JoinRoom(ctx, "a", "alice", "CS101"))
	ms.setFail(errors.New("disk full"))

	err := c.SendPublic(ctx, "a", "hello")
	assert.Error(t, err)
	assert.Len(t, a.named(t, EventReceiveMessage), 1)
}

func TestSendPublicKeepsAppendOrderUnderConcurrency(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	listener := connect(t, c, "l")
	require.NoError(t, c.JoinRoom(ctx, "l", "listener", "R"))

	const senders, perSender = 5, 20
	for i := 0; i < senders; i++ {
		id := fmt.Sprintf("s%d", i)
		connect(t, c, id)
		require.NoError(t, c.JoinRoom(ctx, id, id, "R"))
	}

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_ = c.SendPublic(ctx, id, fmt.Sprintf("%s-%d", id, j))
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	received := listener.named(t, EventReceiveMessage)
	stored := ms.stored()
	require.Len(t, received, senders*perSender)
	require.Len(t, stored, senders*perSender)
	for i := range stored {
		got := decodeInto[store.ChatMessage](t, received[i])
		assert.Equal(t, stored[i].Text, got.Text, "position %d", i)
	}
}

func TestSendPrivateDeliversOnlyToOnlineRecipient(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	a := connect(t, c, "a")
	b := connect(t, c, "b")
	other := connect(t, c, "o")
	require.NoError(t, c.JoinRoom(ctx, "a", "alice", "CS101"))
	require.NoError(t, c.JoinRoom(ctx, "b", "bob", "CS101"))
	require.NoError(t, c.JoinRoom(ctx, "o", "oscar", "CS101"))

	require.NoError(t, c.Dispatch(ctx, "a", frame(t, EventPrivateMessage, PrivateMessageRequest{From: "alice", To: "bob", Text: "psst"})))

	got := decodeInto[store.ChatMessage](t, b.last(t, EventReceivePrivateMessage))
	assert.Equal(t, "psst", got.Text)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "bob", got.To)
	assert.True(t, got.Private)
	assert.Empty(t, got.Room)
	assert.Empty(t, a.named(t, EventReceivePrivateMessage))
	assert.Empty(t, other.named(t, EventReceivePrivateMessage))

	require.NoError(t, c.SendPrivate(ctx, "a", "", "zoe", "are you there"))
	stored := ms.stored()
	require.Len(t, stored, 2, "offline recipients still get the message persisted")
	assert.Equal(t, "alice", stored[1].From, "sender falls back to the bound username")
	assert.Equal(t, "zoe", stored[1].To)
}

func TestSendPrivateWithoutSenderOrRecipientIsDropped(t *testing.T) {
	c, ms := newTestCoordinator(t)
	connect(t, c, "a")

	require.NoError(t, c.SendPrivate(context.Background(), "a", "", "bob", "hi"))
	require.NoError(t, c.SendPrivate(context.Background(), "a", "alice", "", "hi"))
	assert.Empty(t, ms.stored())
}

func TestTypingIndicatorsExcludeSender(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	a := connect(t, c, "a")
	b := connect(t, c, "b")
	require.NoError(t, c.JoinRoom(ctx, "a", "alice", "CS101"))
	require.NoError(t, c.JoinRoom(ctx, "b", "bob", "CS101"))

	require.NoError(t, c.Dispatch(ctx, "a", []byte(`{"event":"typing"}`)))
	require.NoError(t, c.Dispatch(ctx, "a", []byte(`{"event":"stop_typing","data":{}}`)))

	assert.Equal(t, "alice is typing...", decodeInto[string](t, b.last(t, EventShowTyping)))
	hide := b.last(t, EventHideTyping)
	assert.Empty(t, hide.Data)
	assert.Empty(t, a.named(t, EventShowTyping))
	assert.Empty(t, a.named(t, EventHideTyping))
}

func TestTypingFromUnjoinedConnectionIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)
	connect(t, c, "a")
	assert.NotPanics(t, func() {
		c.Typing("a")
		c.StopTyping("a")
		c.Typing("missing")
	})
}
