package coordinator

import "fmt"

// ContextKind tells chat rooms and video sessions apart. Both use free-form
// string identifiers and may collide; the kind keeps them separate.
type ContextKind uint8

const (
	// KindNone marks a connection that has not joined anything.
	KindNone ContextKind = iota
	// KindChatRoom is a text chat room.
	KindChatRoom
	// KindVideoSession is a live video session.
	KindVideoSession
)

func (k ContextKind) String() string {
	switch k {
	case KindChatRoom:
		return "room"
	case KindVideoSession:
		return "session"
	default:
		return "none"
	}
}

// Context is the room or video session a connection currently belongs to.
// The zero value means "not joined".
type Context struct {
	Kind ContextKind
	ID   string
}

// ChatRoom returns the context for a chat room.
func ChatRoom(id string) Context { return Context{Kind: KindChatRoom, ID: id} }

// VideoSession returns the context for a live video session.
func VideoSession(id string) Context { return Context{Kind: KindVideoSession, ID: id} }

// IsZero reports whether the context is unset.
func (c Context) IsZero() bool { return c.Kind == KindNone }

func (c Context) String() string {
	if c.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s:%s", c.Kind, c.ID)
}
