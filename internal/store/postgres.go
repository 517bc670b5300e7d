package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	text       TEXT NOT NULL,
	sender     TEXT NOT NULL,
	recipient  TEXT NOT NULL DEFAULT '',
	room       TEXT NOT NULL DEFAULT '',
	private    BOOLEAN NOT NULL DEFAULT FALSE,
	timestamp  TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_room_private ON chat_messages (room, private);
CREATE INDEX IF NOT EXISTS idx_chat_messages_pair ON chat_messages (sender, recipient) WHERE private;

CREATE TABLE IF NOT EXISTS room_memberships (
	room       TEXT NOT NULL,
	username   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room, username)
);

CREATE TABLE IF NOT EXISTS live_sessions (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	host         TEXT NOT NULL,
	scheduled_at TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL DEFAULT 'scheduled',
	participants TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_live_sessions_status_scheduled ON live_sessions (status, scheduled_at);
`

const sessionColumns = `id, title, description, host, scheduled_at, status, participants, created_at, updated_at`

// PgStore implements Store on a pgx connection pool.
type PgStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to PostgreSQL and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string, opts ...func(*pgxpool.Config)) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &PgStore{pool: pool}, nil
}

// normalizeDSN strips driver suffixes other ecosystems put in URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for _, prefix := range []string{"postgresql+asyncpg://", "postgres+asyncpg://", "postgresql+pgx://", "postgres+pgx://"} {
		if strings.HasPrefix(s, prefix) {
			return "postgres://" + strings.TrimPrefix(s, prefix)
		}
	}
	return s
}

// AppendMessage inserts a chat message.
func (s *PgStore) AppendMessage(ctx context.Context, msg *ChatMessage) error {
	if err := prepareMessage(msg); err != nil {
		return err
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (id, text, sender, recipient, room, private, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq
	`, msg.ID, msg.Text, msg.From, msg.To, msg.Room, msg.Private, msg.Timestamp, msg.CreatedAt).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}
	return nil
}

// RecentRoomMessages returns the newest public messages of a room.
func (s *PgStore) RecentRoomMessages(ctx context.Context, room string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return []ChatMessage{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, text, sender, recipient, room, private, timestamp, created_at
		FROM chat_messages
		WHERE room = $1 AND NOT private
		ORDER BY seq DESC
		LIMIT $2
	`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query room history: %w", err)
	}
	return collectMessages(rows)
}

// PrivateHistory returns the private conversation between a and b.
func (s *PgStore) PrivateHistory(ctx context.Context, a, b string) ([]ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, text, sender, recipient, room, private, timestamp, created_at
		FROM chat_messages
		WHERE private AND ((sender = $1 AND recipient = $2) OR (sender = $2 AND recipient = $1))
		ORDER BY seq ASC
	`, a, b)
	if err != nil {
		return nil, fmt.Errorf("postgres: query private history: %w", err)
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]ChatMessage, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChatMessage, error) {
		var m ChatMessage
		err := row.Scan(&m.Seq, &m.ID, &m.Text, &m.From, &m.To, &m.Room, &m.Private, &m.Timestamp, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan messages: %w", err)
	}
	if messages == nil {
		messages = []ChatMessage{}
	}
	return messages, nil
}

// UpsertMembership records (room, username) once.
func (s *PgStore) UpsertMembership(ctx context.Context, room, username string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_memberships (room, username) VALUES ($1, $2)
		ON CONFLICT (room, username) DO NOTHING
	`, room, username)
	if err != nil {
		return fmt.Errorf("postgres: upsert membership: %w", err)
	}
	return nil
}

// RoomMembers returns the sticky membership of a room.
func (s *PgStore) RoomMembers(ctx context.Context, room string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT username FROM room_memberships WHERE room = $1 ORDER BY username
	`, room)
	if err != nil {
		return nil, fmt.Errorf("postgres: query room members: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan room members: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// CreateSession inserts a new live session.
func (s *PgStore) CreateSession(ctx context.Context, ls *LiveSession) error {
	prepareSession(ls)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO live_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ls.ID, ls.Title, ls.Description, ls.Host, ls.ScheduledAt, string(ls.Status), ls.Participants, ls.CreatedAt, ls.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *PgStore) GetSession(ctx context.Context, id string) (*LiveSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListSessions returns every session that has not ended.
func (s *PgStore) ListSessions(ctx context.Context) ([]LiveSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM live_sessions
		WHERE status <> $1
		ORDER BY scheduled_at ASC
	`, string(StatusEnded))
	if err != nil {
		return nil, fmt.Errorf("postgres: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (LiveSession, error) {
		ls, err := scanSession(row)
		if err != nil {
			return LiveSession{}, err
		}
		return *ls, nil
	})
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []LiveSession{}
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status and returns the updated session.
func (s *PgStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) (*LiveSession, error) {
	if _, err := ParseSessionStatus(string(status)); err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE live_sessions SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+sessionColumns, id, string(status))
	return scanSession(row)
}

// AddParticipant appends username to the participant set if it is missing.
func (s *PgStore) AddParticipant(ctx context.Context, id, username string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE live_sessions
		SET participants = CASE WHEN $2 = ANY(participants) THEN participants ELSE array_append(participants, $2) END,
		    updated_at = now()
		WHERE id = $1
	`, id, username)
	if err != nil {
		return fmt.Errorf("postgres: add participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (*LiveSession, error) {
	var (
		ls     LiveSession
		status string
	)
	err := row.Scan(&ls.ID, &ls.Title, &ls.Description, &ls.Host, &ls.ScheduledAt, &status, &ls.Participants, &ls.CreatedAt, &ls.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres: scan session: %w", err)
	}
	ls.Status = SessionStatus(status)
	if ls.Participants == nil {
		ls.Participants = []string{}
	}
	return &ls, nil
}

// Ping checks the pool.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}
