package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChatMessage is an immutable chat record. Private messages have a recipient
// and no room; public messages have a room and no recipient.
type ChatMessage struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID        string    `gorm:"size:26;uniqueIndex" json:"id"`
	Text      string    `gorm:"not null" json:"text"`
	From      string    `gorm:"column:sender;index;not null" json:"from"`
	To        string    `gorm:"column:recipient;index" json:"to,omitempty"`
	Room      string    `gorm:"index:idx_chat_messages_room_private" json:"room,omitempty"`
	Private   bool      `gorm:"index:idx_chat_messages_room_private;not null" json:"private"`
	Timestamp string    `gorm:"size:16" json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the room/recipient shape of the message.
func (m *ChatMessage) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	if m.Private {
		if m.To == "" || m.Room != "" {
			return fmt.Errorf("%w: private message needs a recipient and no room", ErrInvalidMessage)
		}
		return nil
	}
	if m.Room == "" || m.To != "" {
		return fmt.Errorf("%w: room message needs a room and no recipient", ErrInvalidMessage)
	}
	return nil
}

// RoomMembership records that a username has joined a room at least once.
type RoomMembership struct {
	ID        uint      `gorm:"primaryKey"`
	Room      string    `gorm:"uniqueIndex:idx_room_username;not null"`
	Username  string    `gorm:"uniqueIndex:idx_room_username;not null"`
	CreatedAt time.Time
}

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusLive      SessionStatus = "live"
	StatusEnded     SessionStatus = "ended"
)

// ParseSessionStatus accepts the three known statuses, case-insensitively.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusScheduled, StatusLive, StatusEnded:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// LiveSession is a scheduled video session.
type LiveSession struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	Title        string        `gorm:"not null" json:"title"`
	Description  string        `json:"description"`
	Host         string        `gorm:"not null" json:"host"`
	ScheduledAt  time.Time     `gorm:"index;not null" json:"scheduledAt"`
	Status       SessionStatus `gorm:"size:16;index;not null;default:scheduled" json:"status"`
	Participants []string      `gorm:"serializer:json" json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// HasParticipant reports whether username is already recorded.
func (s *LiveSession) HasParticipant(username string) bool {
	for _, p := range s.Participants {
		if p == username {
			return true
		}
	}
	return false
}

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidMessage is returned when a ChatMessage violates its shape rules.
	ErrInvalidMessage = errors.New("invalid chat message")
	// ErrInvalidStatus is returned for an unknown session status.
	ErrInvalidStatus = errors.New("invalid session status")
)
