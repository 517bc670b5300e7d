package coordinator

import (
	"context"
	"fmt"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

// SessionLive announces to every connection that a session went live.
// It implements the session service's notifier.
func (c *Coordinator) SessionLive(_ context.Context, s *store.LiveSession) {
	if s == nil {
		return
	}
	frame, err := Encode(EventSessionLiveAnnouncement, SessionLivePayload{
		Message:   fmt.Sprintf("Session \"%s\" is now Live!", s.Title),
		SessionID: s.ID,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode live announcement")
		return
	}
	n := c.registry.BroadcastAll(frame)
	c.logger.Info().Str("session_id", s.ID).Int("recipients", n).Msg("Announced live session")
}
