package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SetupRoutes builds the gin engine for s.
func SetupRoutes(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(s.logger))

	r.GET("/", s.handleHealth)
	r.GET("/health", s.handleHealth)
	r.GET("/test", s.handleTestPage)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	if s.sessions != nil {
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.PUT("/sessions/:id/status", s.handleUpdateSessionStatus)
	}
	api.GET("/presence", s.handlePresence)

	if s.history != nil {
		r.POST("/private_history", s.handlePrivateHistory)
	}
	return r
}

func accessLog(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := logger.Debug()
		if status >= 500 {
			evt = logger.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}
