package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store with gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database and migrates the schema.
// An empty DSN opens a private in-memory database.
func OpenSQLite(dsn string) (*GormStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite serialises writers anyway; a single connection also keeps an
	// in-memory database alive and shared.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return NewGormStore(db)
}

// NewGormStore wraps an open gorm handle and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ChatMessage{}, &RoomMembership{}, &LiveSession{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// AppendMessage inserts a chat message.
func (s *GormStore) AppendMessage(ctx context.Context, msg *ChatMessage) error {
	if err := prepareMessage(msg); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// RecentRoomMessages returns the newest public messages of a room.
func (s *GormStore) RecentRoomMessages(ctx context.Context, room string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		return []ChatMessage{}, nil
	}
	messages := make([]ChatMessage, 0, limit)
	err := s.db.WithContext(ctx).
		Where("room = ? AND private = ?", room, false).
		Order("seq DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	return messages, nil
}

// PrivateHistory returns the private conversation between a and b.
func (s *GormStore) PrivateHistory(ctx context.Context, a, b string) ([]ChatMessage, error) {
	messages := []ChatMessage{}
	err := s.db.WithContext(ctx).
		Where("private = ?", true).
		Where(s.db.Where("sender = ? AND recipient = ?", a, b).Or("sender = ? AND recipient = ?", b, a)).
		Order("seq ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query private history: %w", err)
	}
	return messages, nil
}

// UpsertMembership records (room, username) once.
func (s *GormStore) UpsertMembership(ctx context.Context, room, username string) error {
	m := RoomMembership{Room: room, Username: username}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "room"}, {Name: "username"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// RoomMembers returns the sticky membership of a room.
func (s *GormStore) RoomMembers(ctx context.Context, room string) ([]string, error) {
	names := []string{}
	err := s.db.WithContext(ctx).
		Model(&RoomMembership{}).
		Where("room = ?", room).
		Distinct().
		Order("username ASC").
		Pluck("username", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	return names, nil
}

// CreateSession inserts a new live session.
func (s *GormStore) CreateSession(ctx context.Context, ls *LiveSession) error {
	prepareSession(ls)
	if err := s.db.WithContext(ctx).Create(ls).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *GormStore) GetSession(ctx context.Context, id string) (*LiveSession, error) {
	return s.getSession(s.db.WithContext(ctx), id)
}

func (s *GormStore) getSession(db *gorm.DB, id string) (*LiveSession, error) {
	var ls LiveSession
	if err := db.First(&ls, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if ls.Participants == nil {
		ls.Participants = []string{}
	}
	return &ls, nil
}

// ListSessions returns every session that has not ended.
func (s *GormStore) ListSessions(ctx context.Context) ([]LiveSession, error) {
	sessions := []LiveSession{}
	err := s.db.WithContext(ctx).
		Where("status <> ?", StatusEnded).
		Order("scheduled_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for i := range sessions {
		if sessions[i].Participants == nil {
			sessions[i].Participants = []string{}
		}
	}
	return sessions, nil
}

// UpdateSessionStatus sets the status and returns the updated session.
func (s *GormStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) (*LiveSession, error) {
	if _, err := ParseSessionStatus(string(status)); err != nil {
		return nil, err
	}

	var updated *LiveSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&LiveSession{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": time.Now()})
		if result.Error != nil {
			return fmt.Errorf("failed to update session status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		ls, err := s.getSession(tx, id)
		if err != nil {
			return err
		}
		updated = ls
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AddParticipant appends username to the session's participant set.
func (s *GormStore) AddParticipant(ctx context.Context, id, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ls, err := s.getSession(tx, id)
		if err != nil {
			return err
		}
		if ls.HasParticipant(username) {
			return nil
		}
		ls.Participants = append(ls.Participants, username)
		if err := tx.Save(ls).Error; err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		return nil
	})
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
