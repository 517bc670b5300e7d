// Package store persists chat messages, room membership and live sessions.
//
// Two backends implement Store: gorm over SQLite (the default, also used by
// tests) and pgx over PostgreSQL. Both keep the natural insertion order of
// messages through a monotonically increasing sequence column.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MessageStore is the chat history collaborator.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *ChatMessage) error
	// RecentRoomMessages returns up to limit public messages of a room, newest first.
	RecentRoomMessages(ctx context.Context, room string, limit int) ([]ChatMessage, error)
	// PrivateHistory returns private messages exchanged between a and b, oldest first.
	PrivateHistory(ctx context.Context, a, b string) ([]ChatMessage, error)
	UpsertMembership(ctx context.Context, room, username string) error
	// RoomMembers returns the distinct usernames ever recorded for a room, sorted.
	RoomMembers(ctx context.Context, room string) ([]string, error)
}

// SessionStore is the live session collaborator.
type SessionStore interface {
	CreateSession(ctx context.Context, s *LiveSession) error
	GetSession(ctx context.Context, id string) (*LiveSession, error)
	// ListSessions returns sessions that have not ended, earliest first.
	ListSessions(ctx context.Context) ([]LiveSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) (*LiveSession, error)
	// AddParticipant records username on the session; repeated calls are no-ops.
	AddParticipant(ctx context.Context, id, username string) error
}

// Store is a full backend.
type Store interface {
	MessageStore
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver string
	DSN    string
}

// Open connects to the configured backend and prepares its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite, "sqlite3":
		return OpenSQLite(cfg.DSN)
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepareMessage fills generated fields before insertion.
func prepareMessage(msg *ChatMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ID == "" {
		msg.ID = ulid.MustNew(ulid.Timestamp(msg.CreatedAt), ulid.DefaultEntropy()).String()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = msg.CreatedAt.Local().Format("15:04:05")
	}
	return nil
}

// prepareSession fills generated fields before insertion.
func prepareSession(s *LiveSession) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = StatusScheduled
	}
	if s.Participants == nil {
		s.Participants = []string{}
	}
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}
