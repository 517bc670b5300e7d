package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

// JoinSession binds the connection to a video session, records the
// participant, announces the joiner to the members already present (they
// send the offers) and returns the existing roster to the joiner.
func (c *Coordinator) JoinSession(ctx context.Context, connID, username, sessionID string) error {
	username = strings.TrimSpace(username)
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: join_video_session needs sessionId", ErrMalformedEvent)
	}

	target := VideoSession(sessionID)
	prev, err := c.registry.Bind(connID, username, target)
	if err != nil {
		return err
	}
	c.departPrevious(ctx, connID, prev, target)

	log := c.logger.With().Str("conn_id", connID).Str("username", username).Str("session_id", sessionID).Logger()
	log.Info().Msg("Joined video session")

	var recordErr error
	if c.participants != nil && username != "" {
		sctx, cancel := c.storeCtx(ctx)
		err := c.participants.AddParticipant(sctx, sessionID, username)
		cancel()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn().Msg("Joined a session that is not on record")
			} else {
				log.Warn().Err(err).Msg("Failed to record session participant")
			}
			recordErr = fmt.Errorf("record participant: %w", err)
		}
	}

	c.broadcast(target, EventUserJoinedVideo, Participant{ConnectionID: connID, Username: username}, connID)
	c.sendTo(connID, EventAllParticipants, c.registry.Members(target, connID))

	return recordErr
}

// RelayOffer forwards an SDP offer to its target unchanged, tagged with the
// caller's connection id and username.
func (c *Coordinator) RelayOffer(connID string, req OfferRequest) {
	if req.TargetConnectionID == "" {
		return
	}
	caller := req.CallerUsername
	if b, ok := c.registry.Lookup(connID); ok && b.Username != "" {
		caller = b.Username
	}
	if c.sendTo(req.TargetConnectionID, EventOffer, OfferPayload{
		SDP:                req.SDP,
		CallerConnectionID: connID,
		CallerUsername:     caller,
	}) {
		c.registry.Advance(PhaseNegotiating, connID, req.TargetConnectionID)
	}
}

// RelayAnswer forwards an SDP answer to its target unchanged.
func (c *Coordinator) RelayAnswer(connID string, req AnswerRequest) {
	if req.TargetConnectionID == "" {
		return
	}
	if c.sendTo(req.TargetConnectionID, EventAnswer, AnswerPayload{
		SDP:                req.SDP,
		SenderConnectionID: connID,
	}) {
		c.registry.Advance(PhaseConnected, connID, req.TargetConnectionID)
	}
}

// RelayICECandidate forwards an ICE candidate to its target unchanged.
// Candidates may arrive any number of times and in any order.
func (c *Coordinator) RelayICECandidate(connID string, req ICECandidateRequest) {
	if req.TargetConnectionID == "" {
		return
	}
	c.sendTo(req.TargetConnectionID, EventICECandidate, ICECandidatePayload{
		Candidate:          req.Candidate,
		SenderConnectionID: connID,
	})
}

// MediaStatusChange tells the rest of a session that the sender toggled
// audio or video.
func (c *Coordinator) MediaStatusChange(connID string, req MediaStatusRequest) {
	sessionID := req.SessionID
	if sessionID == "" {
		b, ok := c.registry.Lookup(connID)
		if !ok || b.Context.Kind != KindVideoSession {
			return
		}
		sessionID = b.Context.ID
	}
	c.broadcast(VideoSession(sessionID), EventOnMediaStatusChange, MediaStatusPayload{
		ConnectionID: connID,
		Type:         req.Type,
		Status:       req.Status,
	}, connID)
}
