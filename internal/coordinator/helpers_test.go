package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

type fakePeer struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: id} }

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, append([]byte(nil), frame...))
	return true
}

func (p *fakePeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) envelopes(t *testing.T) []Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		env, err := Decode(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) named(t *testing.T, event string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range p.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func (p *fakePeer) last(t *testing.T, event string) Envelope {
	t.Helper()
	all := p.named(t, event)
	require.NotEmpty(t, all, "no %q event received by %s", event, p.id)
	return all[len(all)-1]
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

func decodeInto[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// memoryStore is an in-memory MessageStore and ParticipantStore with
// switchable failures.
type memoryStore struct {
	mu           sync.Mutex
	messages     []store.ChatMessage
	members      map[string]map[string]struct{}
	participants map[string][]string
	sessions     map[string]bool
	fail         error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		members:      make(map[string]map[string]struct{}),
		participants: make(map[string][]string),
		sessions:     make(map[string]bool),
	}
}

func (s *memoryStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *memoryStore) AppendMessage(_ context.Context, msg *store.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *memoryStore) RecentRoomMessages(_ context.Context, room string, limit int) ([]store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := []store.ChatMessage{}
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if m.Room == room && !m.Private {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) UpsertMembership(_ context.Context, room, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.members[room] == nil {
		s.members[room] = make(map[string]struct{})
	}
	s.members[room][username] = struct{}{}
	return nil
}

func (s *memoryStore) RoomMembers(_ context.Context, room string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := []string{}
	for u := range s.members[room] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) AddParticipant(_ context.Context, sessionID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if !s.sessions[sessionID] {
		return store.ErrNotFound
	}
	for _, p := range s.participants[sessionID] {
		if p == username {
			return nil
		}
	}
	s.participants[sessionID] = append(s.participants[sessionID], username)
	return nil
}

func (s *memoryStore) stored() []store.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ChatMessage(nil), s.messages...)
}

var fixedNow = time.Date(2026, 2, 3, 14, 5, 6, 0, time.Local)

func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *memoryStore) {
	t.Helper()
	ms := newMemoryStore()
	base := []Option{
		WithLogger(zerolog.Nop()),
		WithClock(func() time.Time { return fixedNow }),
	}
	c := New(NewRegistry(), ms, ms, append(base, opts...)...)
	return c, ms
}

func connect(t *testing.T, c *Coordinator, id string) *fakePeer {
	t.Helper()
	p := newFakePeer(id)
	require.NoError(t, c.Connect(p))
	return p
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := Encode(event, data)
	require.NoError(t, err)
	return raw
}
