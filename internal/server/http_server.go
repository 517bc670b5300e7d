package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/logx"
	"github.com/Vennela115/CampusVinculum/internal/sessions"
	"github.com/Vennela115/CampusVinculum/internal/store"
)

// HistoryReader serves the private history endpoint.
type HistoryReader interface {
	PrivateHistory(ctx context.Context, a, b string) ([]store.ChatMessage, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators of a Server. Only Hub is required.
type Options struct {
	Hub      *Hub
	Sessions *sessions.Service
	History  HistoryReader
	Pinger   Pinger
}

// Server bundles the HTTP surface: the WebSocket endpoint, the session REST
// API and the health and test pages.
type Server struct {
	hub            *Hub
	sessions       *sessions.Service
	history        HistoryReader
	pinger         Pinger
	requestTimeout time.Duration
	engine         *gin.Engine
	logger         zerolog.Logger
}

// New builds a Server and its routes from the active configuration.
func New(opts Options) *Server {
	cfg := currentConfig()
	s := &Server{
		hub:            opts.Hub,
		sessions:       opts.Sessions,
		history:        opts.History,
		pinger:         opts.Pinger,
		requestTimeout: cfg.StoreTimeout,
		logger:         logx.Component("HTTP"),
	}
	s.engine = SetupRoutes(s)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.requestTimeout)
}
