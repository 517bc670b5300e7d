package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

func TestSessionLiveReachesEveryConnection(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	inRoom := connect(t, c, "A")
	idle := connect(t, c, "B")
	require.NoError(t, c.JoinRoom(ctx, "A", "alice", "CS101"))

	c.SessionLive(ctx, &store.LiveSession{ID: "S1", Title: "Algorithms Q&A"})

	for _, p := range []*fakePeer{inRoom, idle} {
		got := decodeInto[SessionLivePayload](t, p.last(t, EventSessionLiveAnnouncement))
		assert.Equal(t, `Session "Algorithms Q&A" is now Live!`, got.Message)
		assert.Equal(t, "S1", got.SessionID)
	}

	assert.NotPanics(t, func() { c.SessionLive(ctx, nil) })
}
