package coordinator

import (
	"context"
	"fmt"
)

// Leave handles an explicit leave_room or leave_video_session. The
// connection stays registered and may join again. Calling it for a
// connection that is not joined does nothing.
func (c *Coordinator) Leave(ctx context.Context, connID string) {
	b, ok := c.registry.Unbind(connID)
	if !ok {
		return
	}
	c.reconcile(ctx, connID, b, "left")
}

// Disconnect handles transport loss: the connection is removed from the
// registry and its context is told. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) {
	b, ok := c.registry.Unregister(connID)
	if !ok {
		return
	}
	c.reconcile(ctx, connID, b, "disconnected")
}

func (c *Coordinator) reconcile(ctx context.Context, connID string, b Binding, reason string) {
	c.logger.Info().
		Str("conn_id", connID).
		Str("username", b.Username).
		Str("context", b.Context.String()).
		Msg("Connection " + reason)

	if err := c.announceDeparture(ctx, connID, b); err != nil {
		c.logger.Warn().Err(err).Str("conn_id", connID).Msg("Degraded departure notice")
	}
}

// announceDeparture notifies the remaining members of b's context. The
// connection must already be detached from the registry.
func (c *Coordinator) announceDeparture(ctx context.Context, connID string, b Binding) error {
	switch b.Context.Kind {
	case KindChatRoom:
		c.broadcast(b.Context, EventUserLeft, fmt.Sprintf("%s left", b.Username), connID)
	case KindVideoSession:
		c.broadcast(b.Context, EventUserLeftVideo, UserLeftVideoPayload{ConnectionID: connID}, connID)
	default:
		return nil
	}
	return c.broadcastUserList(ctx, b.Context)
}
