// Package coordinator implements the realtime side of the service: the
// connection registry, chat rooms, private messages, typing indicators,
// WebRTC signaling relay, disconnect cleanup and live-session announcements.
//
// Transports hand every inbound frame of a connection to Dispatch from a
// single goroutine per connection, so events of one connection are handled
// in order while different connections run concurrently. All shared state
// lives in the Registry.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/logx"
	"github.com/Vennela115/CampusVinculum/internal/store"
)

const (
	defaultHistoryLimit = 20
	defaultStoreTimeout = 5 * time.Second
)

// MessageStore is the part of the message store the coordinator uses.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *store.ChatMessage) error
	RecentRoomMessages(ctx context.Context, room string, limit int) ([]store.ChatMessage, error)
	UpsertMembership(ctx context.Context, room, username string) error
	RoomMembers(ctx context.Context, room string) ([]string, error)
}

// ParticipantStore records video session participants.
type ParticipantStore interface {
	AddParticipant(ctx context.Context, sessionID, username string) error
}

// PresenceSink receives presence flips in the order the registry applied
// them. Publish is called with the registry lock held and must not block.
type PresenceSink interface {
	Publish(username string, online bool)
}

// Coordinator routes client events to the room, chat and signaling handlers.
type Coordinator struct {
	registry     *Registry
	messages     MessageStore
	participants ParticipantStore
	presence     PresenceSink
	now          func() time.Time
	storeTimeout time.Duration
	historyLimit int
	roomLocks    *keyedMutex
	logger       zerolog.Logger
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithPresenceSink mirrors presence changes to sink.
func WithPresenceSink(sink PresenceSink) Option {
	return func(c *Coordinator) { c.presence = sink }
}

// WithStoreTimeout bounds every store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// WithHistoryLimit sets how many messages are replayed on join.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyLimit = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New builds a Coordinator. participants may be nil when no session store
// is available.
func New(registry *Registry, messages MessageStore, participants ParticipantStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:     registry,
		messages:     messages,
		participants: participants,
		now:          time.Now,
		storeTimeout: defaultStoreTimeout,
		historyLimit: defaultHistoryLimit,
		roomLocks:    newKeyedMutex(),
		logger:       logx.Component("Coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.presence != nil {
		registry.Watch(c.presence.Publish)
	}
	return c
}

// Registry exposes the connection registry.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Connect registers a new transport connection and tells it its id.
func (c *Coordinator) Connect(peer Peer) error {
	if err := c.registry.Register(peer); err != nil {
		return fmt.Errorf("register %s: %w", peer.ID(), err)
	}
	c.sendTo(peer.ID(), EventConnected, ConnectedPayload{ConnectionID: peer.ID()})
	return nil
}

// Dispatch decodes one inbound frame and runs its handler. Malformed and
// unknown events return an error for logging and change nothing.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, raw []byte) error {
	env, err := Decode(raw)
	if err != nil {
		return err
	}
	if !c.registry.Registered(connID) {
		return fmt.Errorf("dispatch %s: %w", env.Event, ErrNotRegistered)
	}

	switch env.Event {
	case EventJoinRoom:
		var req JoinRoomRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		return c.JoinRoom(ctx, connID, req.Username, req.Room)
	case EventLeaveRoom:
		c.Leave(ctx, connID)
		return nil
	case EventSendMessage:
		var req SendMessageRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		return c.SendPublic(ctx, connID, req.Text)
	case EventPrivateMessage:
		var req PrivateMessageRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		return c.SendPrivate(ctx, connID, req.From, req.To, req.Text)
	case EventTyping:
		c.Typing(connID)
		return nil
	case EventStopTyping:
		c.StopTyping(connID)
		return nil
	case EventJoinVideoSession:
		var req JoinVideoSessionRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		return c.JoinSession(ctx, connID, req.Username, req.SessionID)
	case EventOffer:
		var req OfferRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		c.RelayOffer(connID, req)
		return nil
	case EventAnswer:
		var req AnswerRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		c.RelayAnswer(connID, req)
		return nil
	case EventICECandidate:
		var req ICECandidateRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		c.RelayICECandidate(connID, req)
		return nil
	case EventMediaStatusChange:
		var req MediaStatusRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		c.MediaStatusChange(connID, req)
		return nil
	case EventLeaveVideoSession:
		c.Leave(ctx, connID)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// storeCtx derives a bounded context for one store call.
func (c *Coordinator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.storeTimeout)
}

func (c *Coordinator) sendTo(connID, event string, payload any) bool {
	frame, err := Encode(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return false
	}
	ok := c.registry.SendTo(connID, frame)
	if !ok {
		c.logger.Debug().Str("conn_id", connID).Str("event", event).Msg("Event not delivered")
	}
	return ok
}

func (c *Coordinator) broadcast(target Context, event string, payload any, except string) int {
	frame, err := Encode(event, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Failed to encode event")
		return 0
	}
	return c.registry.Broadcast(target, frame, except)
}

// roomMembers loads the sticky membership, degrading to none on failure.
func (c *Coordinator) roomMembers(ctx context.Context, room string) ([]string, error) {
	sctx, cancel := c.storeCtx(ctx)
	defer cancel()

	members, err := c.messages.RoomMembers(sctx, room)
	if err != nil {
		c.logger.Warn().Err(err).Str("room", room).Msg("Room membership unavailable")
		return []string{}, fmt.Errorf("load members of %s: %w", room, err)
	}
	return members, nil
}

// broadcastUserList sends the roster of target to everyone bound to it.
func (c *Coordinator) broadcastUserList(ctx context.Context, target Context) error {
	var (
		members []string
		loadErr error
	)
	if target.Kind == KindChatRoom {
		members, loadErr = c.roomMembers(ctx, target.ID)
	}
	if _, err := c.registry.BroadcastUserList(target, members); err != nil {
		return errors.Join(loadErr, err)
	}
	return loadErr
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
