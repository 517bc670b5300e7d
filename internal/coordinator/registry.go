package coordinator

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotRegistered is returned for connection ids the registry does not know.
	ErrNotRegistered = errors.New("connection not registered")
	// ErrAlreadyRegistered is returned when an id is registered twice.
	ErrAlreadyRegistered = errors.New("connection already registered")
)

// Peer is the transport side of a connection.
type Peer interface {
	ID() string
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

// Phase is the signaling state of a connection inside a video session.
type Phase uint8

const (
	// PhaseRequested is any connection outside a video session.
	PhaseRequested Phase = iota
	// PhaseJoined is set when the connection joins a session.
	PhaseJoined
	// PhaseNegotiating is set once an offer was relayed to or from it.
	PhaseNegotiating
	// PhaseConnected is set once an answer was relayed to or from it.
	PhaseConnected
	// PhaseLeft is set when the connection leaves its session.
	PhaseLeft
)

func (p Phase) String() string {
	switch p {
	case PhaseJoined:
		return "joined"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseLeft:
		return "left"
	default:
		return "requested"
	}
}

// Binding is what a connection is joined as.
type Binding struct {
	Username string
	Context  Context
}

type entry struct {
	peer     Peer
	seq      uint64
	username string
	ctx      Context
	phase    Phase
}

// Registry tracks live connections, their bindings, context groups and the
// presence map. One lock guards every map so lookups across them are atomic.
type Registry struct {
	mu       sync.RWMutex
	seq      uint64
	conns    map[string]*entry
	byUser   map[string]string
	userRefs map[string]int
	groups   map[Context]map[string]*entry
	presence map[string]bool
	watch    func(username string, online bool)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*entry),
		byUser:   make(map[string]string),
		userRefs: make(map[string]int),
		groups:   make(map[Context]map[string]*entry),
		presence: make(map[string]bool),
	}
}

// Watch installs fn to observe presence flips. fn runs with the registry
// lock held, in the order the flips happen, and must not block or call back
// into the registry.
func (r *Registry) Watch(fn func(username string, online bool)) {
	r.mu.Lock()
	r.watch = fn
	r.mu.Unlock()
}

// Register adds an unbound connection.
func (r *Registry) Register(peer Peer) error {
	id := peer.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return ErrAlreadyRegistered
	}
	r.seq++
	r.conns[id] = &entry{peer: peer, seq: r.seq}
	return nil
}

// Bind sets the username and context of a connection, replacing any previous
// binding, and returns the previous one. The username's reverse mapping now
// points at this connection.
func (r *Registry) Bind(id, username string, ctx Context) (Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Binding{}, ErrNotRegistered
	}
	prev := Binding{Username: e.username, Context: e.ctx}

	// Count the new binding first so rebinding the same username never
	// flips it offline in between.
	if username != "" {
		r.userRefs[username]++
	}
	r.detachLocked(id, e)

	r.seq++
	e.seq = r.seq
	e.username = username
	e.ctx = ctx
	e.phase = PhaseRequested
	if ctx.Kind == KindVideoSession {
		e.phase = PhaseJoined
	}
	if username != "" {
		r.byUser[username] = id
		r.setPresenceLocked(username, true)
	}
	if !ctx.IsZero() {
		group := r.groups[ctx]
		if group == nil {
			group = make(map[string]*entry)
			r.groups[ctx] = group
		}
		group[id] = e
	}
	return prev, nil
}

// Unbind clears the binding of a connection but keeps it registered.
// It reports the binding that was removed; ok is false if there was none.
func (r *Registry) Unbind(id string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[id]
	if !exists || (e.username == "" && e.ctx.IsZero()) {
		return Binding{}, false
	}
	b := Binding{Username: e.username, Context: e.ctx}
	r.detachLocked(id, e)
	e.phase = PhaseLeft
	return b, true
}

// Unregister removes a connection. It reports the binding the connection had;
// ok is false if the connection was unknown or never bound.
func (r *Registry) Unregister(id string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[id]
	if !exists {
		return Binding{}, false
	}
	b := Binding{Username: e.username, Context: e.ctx}
	r.detachLocked(id, e)
	delete(r.conns, id)
	return b, b.Username != "" || !b.Context.IsZero()
}

// detachLocked drops e from its group and username bookkeeping.
func (r *Registry) detachLocked(id string, e *entry) {
	if !e.ctx.IsZero() {
		if group := r.groups[e.ctx]; group != nil {
			delete(group, id)
			if len(group) == 0 {
				delete(r.groups, e.ctx)
			}
		}
	}

	if u := e.username; u != "" {
		r.userRefs[u]--
		if r.userRefs[u] <= 0 {
			delete(r.userRefs, u)
			r.setPresenceLocked(u, false)
		}
		if r.byUser[u] == id {
			delete(r.byUser, u)
			if r.userRefs[u] > 0 {
				r.repointLocked(u, id)
			}
		}
	}

	e.username = ""
	e.ctx = Context{}
}

func (r *Registry) setPresenceLocked(username string, online bool) {
	if was, ok := r.presence[username]; ok && was == online {
		return
	}
	r.presence[username] = online
	if r.watch != nil {
		r.watch(username, online)
	}
}

// repointLocked moves the reverse mapping of username to its most recently
// bound remaining connection.
func (r *Registry) repointLocked(username, departing string) {
	var best *entry
	bestID := ""
	for id, e := range r.conns {
		if id == departing || e.username != username {
			continue
		}
		if best == nil || e.seq > best.seq {
			best, bestID = e, id
		}
	}
	if best != nil {
		r.byUser[username] = bestID
	}
}

// Lookup returns the binding of a connection. ok is false for unknown or
// unbound connections.
func (r *Registry) Lookup(id string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.conns[id]
	if !exists || e.ctx.IsZero() {
		return Binding{}, false
	}
	return Binding{Username: e.username, Context: e.ctx}, true
}

// ResolveUsername returns the connection currently mapped to username.
func (r *Registry) ResolveUsername(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[username]
	return id, ok
}

// Registered reports whether the connection id is known.
func (r *Registry) Registered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[id]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Members returns the connections bound to ctx in join order, leaving out
// the except id.
func (r *Registry) Members(ctx Context, except string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(ctx, except)
}

func (r *Registry) membersLocked(ctx Context, except string) []Participant {
	group := r.groups[ctx]
	entries := make([]*entry, 0, len(group))
	ids := make(map[*entry]string, len(group))
	for id, e := range group {
		if id == except {
			continue
		}
		entries = append(entries, e)
		ids[e] = id
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Participant, 0, len(entries))
	for _, e := range entries {
		out = append(out, Participant{ConnectionID: ids[e], Username: e.username})
	}
	return out
}

// Roster returns the distinct usernames bound to ctx, sorted.
func (r *Registry) Roster(ctx Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked(ctx)
}

func (r *Registry) rosterLocked(ctx Context) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, len(r.groups[ctx]))
	for _, e := range r.groups[ctx] {
		if e.username == "" {
			continue
		}
		if _, dup := seen[e.username]; dup {
			continue
		}
		seen[e.username] = struct{}{}
		names = append(names, e.username)
	}
	sort.Strings(names)
	return names
}

// Presence returns a copy of the presence map.
func (r *Registry) Presence() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presenceLocked()
}

func (r *Registry) presenceLocked() map[string]bool {
	out := make(map[string]bool, len(r.presence))
	for u, online := range r.presence {
		out[u] = online
	}
	return out
}

// Online reports the presence flag of a username.
func (r *Registry) Online(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.presence[username]
}

// Phase returns the signaling phase of a connection.
func (r *Registry) Phase(id string) (Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return PhaseRequested, false
	}
	return e.phase, true
}

// Advance moves the listed connections to phase if they are in a video
// session and have not already reached it.
func (r *Registry) Advance(phase Phase, ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		e, ok := r.conns[id]
		if !ok || e.ctx.Kind != KindVideoSession || e.phase >= phase {
			continue
		}
		e.phase = phase
	}
}

// SendTo delivers a frame to one connection.
func (r *Registry) SendTo(id string, frame []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	return e.peer.Send(frame)
}

// Broadcast delivers a frame to every connection bound to ctx except the
// given id and returns how many accepted it. The membership snapshot and the
// sends happen under one read lock.
func (r *Registry) Broadcast(ctx Context, frame []byte, except string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for id, e := range r.groups[ctx] {
		if id == except {
			continue
		}
		if e.peer.Send(frame) {
			sent++
		}
	}
	return sent
}

// BroadcastAll delivers a frame to every registered connection.
func (r *Registry) BroadcastAll(frame []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for _, e := range r.conns {
		if e.peer.Send(frame) {
			sent++
		}
	}
	return sent
}

// BroadcastUserList sends update_user_list to every connection bound to ctx.
// The live roster, the presence map and the recipients come from one
// snapshot. members is the historical membership supplied by the caller.
func (r *Registry) BroadcastUserList(ctx Context, members []string) (int, error) {
	if members == nil {
		members = []string{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	frame, err := Encode(EventUpdateUserList, UserListPayload{
		Users:        r.rosterLocked(ctx),
		Members:      members,
		OnlineStatus: r.presenceLocked(),
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range r.groups[ctx] {
		if e.peer.Send(frame) {
			sent++
		}
	}
	return sent, nil
}
