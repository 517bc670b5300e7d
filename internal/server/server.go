package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Vennela115/CampusVinculum/internal/logx"
)

// CreateServer creates an HTTP server for handler with production timeouts.
// WriteTimeout stays zero; hijacked WebSocket connections manage their own
// deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartHub runs the hub loop in a new goroutine.
func StartHub(h *Hub) {
	go h.Run()
	logger := logx.Component("Hub")
	logger.Info().Msg("Hub started and ready to manage WebSocket connections")
}

// StartServer listens until the server is shut down. It returns
// http.ErrServerClosed after a graceful shutdown.
func StartServer(server *http.Server) error {
	logger := logx.Component("HTTP")
	logger.Info().Str("addr", server.Addr).Msg("Server listening")
	return server.ListenAndServe()
}

// ShutdownServer stops accepting connections and waits for in-flight
// requests until timeout.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	logger := logx.Component("HTTP")
	logger.Info().Msg("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}
	logger.Info().Msg("HTTP server shutdown completed")
	return nil
}
