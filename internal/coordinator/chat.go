package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

const timestampLayout = "15:04:05"

// SendPublic appends a message to the sender's room and broadcasts it to
// every member, sender included. Empty text and connections that have not
// joined a chat room are ignored. Append and broadcast run under the room's lock so the
// delivery order matches the stored order.
func (c *Coordinator) SendPublic(ctx context.Context, connID, text string) error {
	b, ok := c.registry.Lookup(connID)
	if !ok || b.Context.Kind != KindChatRoom || text == "" {
		return nil
	}

	unlock := c.roomLocks.Lock(b.Context.ID)
	defer unlock()

	now := c.now()
	msg := store.ChatMessage{
		Text:      text,
		From:      b.Username,
		Room:      b.Context.ID,
		Timestamp: now.Local().Format(timestampLayout),
		CreatedAt: now,
	}

	sctx, cancel := c.storeCtx(ctx)
	err := c.messages.AppendMessage(sctx, &msg)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("conn_id", connID).Str("room", msg.Room).Msg("Failed to persist room message")
		err = fmt.Errorf("persist room message: %w", err)
	}

	n := c.broadcast(b.Context, EventReceiveMessage, msg, "")
	c.logger.Debug().Str("room", msg.Room).Str("username", msg.From).Int("recipients", n).Msg("Relayed room message")
	return err
}

// SendPrivate persists a direct message and delivers it to the recipient's
// current connection, if any. An empty from falls back to the sender's
// bound username.
func (c *Coordinator) SendPrivate(ctx context.Context, connID, from, to, text string) error {
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		if b, ok := c.registry.Lookup(connID); ok {
			from = b.Username
		}
	}
	if from == "" || to == "" || text == "" {
		return nil
	}

	now := c.now()
	msg := store.ChatMessage{
		Text:      text,
		From:      from,
		To:        to,
		Private:   true,
		Timestamp: now.Local().Format(timestampLayout),
		CreatedAt: now,
	}

	sctx, cancel := c.storeCtx(ctx)
	err := c.messages.AppendMessage(sctx, &msg)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("conn_id", connID).Str("to", to).Msg("Failed to persist private message")
		err = fmt.Errorf("persist private message: %w", err)
	}

	dest, online := c.registry.ResolveUsername(to)
	if !online {
		c.logger.Debug().Str("to", to).Msg("Recipient offline; private message stored only")
		return err
	}
	c.sendTo(dest, EventReceivePrivateMessage, msg)
	return err
}

// Typing tells the rest of the sender's context that the sender is typing.
func (c *Coordinator) Typing(connID string) {
	b, ok := c.registry.Lookup(connID)
	if !ok {
		return
	}
	c.broadcast(b.Context, EventShowTyping, b.Username+" is typing...", connID)
}

// StopTyping clears the typing indicator for the rest of the context.
func (c *Coordinator) StopTyping(connID string) {
	b, ok := c.registry.Lookup(connID)
	if !ok {
		return
	}
	c.broadcast(b.Context, EventHideTyping, nil, connID)
}
