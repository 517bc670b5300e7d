package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// JoinRoom binds the connection to a chat room, records the membership,
// announces the joiner, broadcasts the roster and replays recent history to
// the joiner. Store failures are logged and degrade the result; the join
// itself always completes. The returned error carries those failures.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, username, room string) error {
	username = strings.TrimSpace(username)
	room = strings.TrimSpace(room)
	if username == "" || room == "" {
		return fmt.Errorf("%w: join_room needs username and room", ErrMalformedEvent)
	}

	target := ChatRoom(room)
	prev, err := c.registry.Bind(connID, username, target)
	if err != nil {
		return err
	}
	c.departPrevious(ctx, connID, prev, target)

	log := c.logger.With().Str("conn_id", connID).Str("username", username).Str("room", room).Logger()
	log.Info().Msg("Joined room")

	var errs []error

	sctx, cancel := c.storeCtx(ctx)
	if err := c.messages.UpsertMembership(sctx, room, username); err != nil {
		log.Warn().Err(err).Msg("Failed to record room membership")
		errs = append(errs, fmt.Errorf("record membership: %w", err))
	}
	cancel()

	c.broadcast(target, EventUserJoined, fmt.Sprintf("%s joined %s", username, room), connID)

	if err := c.broadcastUserList(ctx, target); err != nil {
		errs = append(errs, err)
	}

	history, err := c.history(ctx, room)
	if err != nil {
		log.Warn().Err(err).Msg("Room history unavailable")
		errs = append(errs, err)
	}
	c.sendTo(connID, EventLoadHistory, history)

	return errors.Join(errs...)
}

// history returns up to historyLimit public messages of room, oldest first.
func (c *Coordinator) history(ctx context.Context, room string) (HistoryPayload, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	recent, err := c.messages.RecentRoomMessages(sctx, room, c.historyLimit)
	if err != nil {
		return HistoryPayload{}, fmt.Errorf("load history of %s: %w", room, err)
	}

	out := make(HistoryPayload, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Private {
			continue
		}
		out = append(out, recent[i])
	}
	return out, nil
}

// departPrevious announces that a connection moved out of its previous
// context when a new join replaced it.
func (c *Coordinator) departPrevious(ctx context.Context, connID string, prev Binding, next Context) {
	if prev.Context.IsZero() || prev.Context == next {
		return
	}
	if err := c.announceDeparture(ctx, connID, prev); err != nil {
		c.logger.Warn().Err(err).Str("conn_id", connID).Str("context", prev.Context.String()).Msg("Degraded departure notice")
	}
}
