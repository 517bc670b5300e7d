package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSessionRosterExchange(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	ms.sessions["S1"] = true
	a := connect(t, c, "A")
	b := connect(t, c, "B")

	require.NoError(t, c.Dispatch(ctx, "A", frame(t, EventJoinVideoSession, JoinVideoSessionRequest{SessionID: "S1", Username: "alice"})))
	assert.JSONEq(t, `[]`, string(a.last(t, EventAllParticipants).Data))

	require.NoError(t, c.Dispatch(ctx, "B", frame(t, EventJoinVideoSession, JoinVideoSessionRequest{SessionID: "S1", Username: "bob"})))

	joined := decodeInto[Participant](t, a.last(t, EventUserJoinedVideo))
	assert.Equal(t, Participant{ConnectionID: "B", Username: "bob"}, joined)

	roster := decodeInto[[]Participant](t, b.last(t, EventAllParticipants))
	assert.Equal(t, []Participant{{ConnectionID: "A", Username: "alice"}}, roster)
	assert.Empty(t, b.named(t, EventUserJoinedVideo))

	assert.Equal(t, []string{"alice", "bob"}, ms.participants["S1"])
	assert.True(t, c.Registry().Online("alice"))
}

func TestJoinSessionUnknownSessionStillJoins(t *testing.T) {
	c, _ := newTestCoordinator(t)
	connect(t, c, "A")

	err := c.JoinSession(context.Background(), "A", "alice", "ghost")
	require.Error(t, err)

	b, ok := c.Registry().Lookup("A")
	require.True(t, ok)
	assert.Equal(t, VideoSession("ghost"), b.Context)
}

func TestJoinSessionStoreFailureDegrades(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ms.setFail(errors.New("timeout"))
	a := connect(t, c, "A")

	require.Error(t, c.JoinSession(context.Background(), "A", "alice", "S1"))
	assert.NotEmpty(t, a.named(t, EventAllParticipants))
}

func TestRelayPreservesPayloadBytes(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	ms.sessions["S1"] = true
	a := connect(t, c, "A")
	b := connect(t, c, "B")
	require.NoError(t, c.JoinSession(ctx, "A", "alice", "S1"))
	require.NoError(t, c.JoinSession(ctx, "B", "bob", "S1"))

	sdp := "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\na=group:BUNDLE 0 1 <&>\r\n"
	sdpJSON, err := json.Marshal(map[string]string{"type": "offer", "sdp": sdp})
	require.NoError(t, err)

	offer := []byte(`{"event":"offer","data":{"targetConnectionId":"B","callerUsername":"spoof","sdp":` + string(sdpJSON) + `}}`)
	require.NoError(t, c.Dispatch(ctx, "A", offer))

	var got struct {
		SDP                json.RawMessage `json:"sdp"`
		CallerConnectionID string          `json:"callerConnectionId"`
		CallerUsername     string          `json:"callerUsername"`
	}
	require.NoError(t, json.Unmarshal(b.last(t, EventOffer).Data, &got))
	assert.Equal(t, string(sdpJSON), string(got.SDP))
	assert.Equal(t, "A", got.CallerConnectionID)
	assert.Equal(t, "alice", got.CallerUsername, "caller name comes from the registry")

	var inner map[string]string
	require.NoError(t, json.Unmarshal(got.SDP, &inner))
	assert.Equal(t, sdp, inner["sdp"])

	pa, _ := c.Registry().Phase("A")
	assert.Equal(t, PhaseNegotiating, pa)

	answer := []byte(`{"event":"answer","data":{"targetConnectionId":"A","sdp":{ "type": "answer",  "sdp": "v=0" }}}`)
	require.NoError(t, c.Dispatch(ctx, "B", answer))
	ans := decodeInto[AnswerPayload](t, a.last(t, EventAnswer))
	assert.Equal(t, `{ "type": "answer",  "sdp": "v=0" }`, string(ans.SDP), "whitespace survives the relay")
	assert.Equal(t, "B", ans.SenderConnectionID)

	pa, _ = c.Registry().Phase("A")
	pb, _ := c.Registry().Phase("B")
	assert.Equal(t, PhaseConnected, pa)
	assert.Equal(t, PhaseConnected, pb)
}

func TestICECandidatesRelayedInAnyOrder(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	ms.sessions["S1"] = true
	connect(t, c, "A")
	b := connect(t, c, "B")
	require.NoError(t, c.JoinSession(ctx, "A", "alice", "S1"))
	require.NoError(t, c.JoinSession(ctx, "B", "bob", "S1"))

	candidates := []string{
		`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`,
		`{"candidate":"candidate:2 1 udp 1686052607 1.2.3.4 54321 typ srflx","sdpMid":"0","sdpMLineIndex":0}`,
		`null`,
	}
	for _, cand := range candidates {
		raw := []byte(`{"event":"ice-candidate","data":{"targetConnectionId":"B","candidate":` + cand + `}}`)
		require.NoError(t, c.Dispatch(ctx, "A", raw))
	}

	got := b.named(t, EventICECandidate)
	require.Len(t, got, len(candidates))
	for i, env := range got {
		p := decodeInto[ICECandidatePayload](t, env)
		assert.Equal(t, "A", p.SenderConnectionID)
		assert.JSONEq(t, candidates[i], string(p.Candidate))
	}

	ph, _ := c.Registry().Phase("B")
	assert.Equal(t, PhaseJoined, ph, "candidates do not move the phase")
}

func TestRelayToMissingTargetIsNoop(t *testing.T) {
	c, _ := newTestCoordinator(t)
	a := connect(t, c, "A")

	require.NoError(t, c.Dispatch(context.Background(), "A", frame(t, EventOffer, OfferRequest{TargetConnectionID: "gone", SDP: json.RawMessage(`"x"`)})))
	require.NoError(t, c.Dispatch(context.Background(), "A", frame(t, EventAnswer, AnswerRequest{SDP: json.RawMessage(`"x"`)})))
	assert.Empty(t, a.named(t, EventOffer))
	assert.Empty(t, a.named(t, EventAnswer))
}

func TestMediaStatusChangeGoesToRestOfSession(t *testing.T) {
	c, ms := newTestCoordinator(t)
	ctx := context.Background()
	ms.sessions["S1"] = true
	a := connect(t, c, "A")
	b := connect(t, c, "B")
	outsider := connect(t, c, "C")
	require.NoError(t, c.JoinSession(ctx, "A", "alice", "S1"))
	require.NoError(t, c.JoinSession(ctx, "B", "bob", "S1"))
	require.NoError(t, c.JoinRoom(ctx, "C", "carol", "S1"))

	require.NoError(t, c.Dispatch(ctx, "A", frame(t, EventMediaStatusChange, MediaStatusRequest{Type: "audio", Status: false, SessionID: "S1"})))
	got := decodeInto[MediaStatusPayload](t, b.last(t, EventOnMediaStatusChange))
	assert.Equal(t, MediaStatusPayload{ConnectionID: "A", Type: "audio", Status: false}, got)
	assert.Empty(t, a.named(t, EventOnMediaStatusChange))
	assert.Empty(t, outsider.named(t, EventOnMediaStatusChange), "chat room with the same id is a different context")

	c.MediaStatusChange("B", MediaStatusRequest{Type: "video", Status: true})
	got = decodeInto[MediaStatusPayload](t, a.last(t, EventOnMediaStatusChange))
	assert.Equal(t, "B", got.ConnectionID)
	assert.True(t, got.Status)
}
