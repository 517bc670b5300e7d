// Package sessions manages scheduled live video sessions and announces when
// one goes live.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/logx"
	"github.com/Vennela115/CampusVinculum/internal/store"
)

// ErrInvalidStatus is returned for a status outside scheduled, live and ended.
var ErrInvalidStatus = store.ErrInvalidStatus

// ValidationError lists the required fields a request is missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields (" + strings.Join(e.Fields, ", ") + ")"
}

// Notifier is told when a session goes live.
type Notifier interface {
	SessionLive(ctx context.Context, s *store.LiveSession)
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Host         string    `json:"host"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	Participants []string  `json:"participants"`
}

// Service is the session management API.
type Service struct {
	store    store.SessionStore
	notifier Notifier
	logger   zerolog.Logger
}

// NewService builds a Service. notifier may be nil.
func NewService(s store.SessionStore, notifier Notifier) *Service {
	return &Service{
		store:    s,
		notifier: notifier,
		logger:   logx.Component("Sessions"),
	}
}

// Create validates and stores a new session.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.LiveSession, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Host = strings.TrimSpace(req.Host)

	var missing []string
	if req.Title == "" {
		missing = append(missing, "title")
	}
	if req.Host == "" {
		missing = append(missing, "host")
	}
	if req.ScheduledAt.IsZero() {
		missing = append(missing, "scheduledAt")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	participants := make([]string, 0, len(req.Participants))
	seen := make(map[string]struct{}, len(req.Participants))
	for _, p := range req.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		participants = append(participants, p)
	}

	ls := &store.LiveSession{
		Title:        req.Title,
		Description:  req.Description,
		Host:         req.Host,
		ScheduledAt:  req.ScheduledAt,
		Status:       store.StatusScheduled,
		Participants: participants,
	}
	if err := s.store.CreateSession(ctx, ls); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info().Str("session_id", ls.ID).Str("host", ls.Host).Msg("Session created")
	return ls, nil
}

// List returns upcoming and live sessions.
func (s *Service) List(ctx context.Context) ([]store.LiveSession, error) {
	return s.store.ListSessions(ctx)
}

// Get returns one session or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*store.LiveSession, error) {
	return s.store.GetSession(ctx, id)
}

// UpdateStatus moves a session to a new status. Going live triggers the
// notifier.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*store.LiveSession, error) {
	st, err := store.ParseSessionStatus(status)
	if err != nil {
		return nil, err
	}

	ls, err := s.store.UpdateSessionStatus(ctx, id, st)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update session status: %w", err)
	}
	s.logger.Info().Str("session_id", id).Str("status", string(st)).Msg("Session status changed")

	if st == store.StatusLive && s.notifier != nil {
		s.notifier.SessionLive(ctx, ls)
	}
	return ls, nil
}
