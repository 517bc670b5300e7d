package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Vennela115/CampusVinculum/internal/sessions"
	"github.com/Vennela115/CampusVinculum/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// handleWebSocket upgrades the request and hands the connection to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, c.Request.RemoteAddr)
	if !s.hub.Register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := s.requestContext(c)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Health check failed")
			c.String(http.StatusServiceUnavailable, "CampusVinculum store unavailable")
			return
		}
	}
	c.String(http.StatusOK, "CampusVinculum server is running!")
}

func (s *Server) handlePresence(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Coordinator().Registry().Presence())
}

type createSessionRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Host         string   `json:"host"`
	ScheduledAt  string   `json:"scheduledAt"`
	Participants []string `json:"participants"`
}

// Layouts accepted for scheduledAt, including the browser's datetime-local value.
var scheduleLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseSchedule(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid scheduledAt %q", value)
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	scheduledAt, err := parseSchedule(req.ScheduledAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	ls, err := s.sessions.Create(ctx, sessions.CreateRequest{
		Title:        req.Title,
		Description:  req.Description,
		Host:         req.Host,
		ScheduledAt:  scheduledAt,
		Participants: req.Participants,
	})
	if err != nil {
		var verr *sessions.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"message": verr.Error(), "fields": verr.Fields})
			return
		}
		s.logger.Error().Err(err).Msg("Create session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ls)
}

func (s *Server) handleListSessions(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	list, err := s.sessions.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("List sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []store.LiveSession{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetSession(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	ls, err := s.sessions.Get(ctx, c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Session not found"})
	case err != nil:
		s.logger.Error().Err(err).Msg("Get session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, ls)
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateSessionStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	ls, err := s.sessions.UpdateStatus(ctx, c.Param("id"), req.Status)
	switch {
	case errors.Is(err, sessions.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"message": "status must be one of scheduled, live, ended"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Session not found"})
	case err != nil:
		s.logger.Error().Err(err).Msg("Update session status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, ls)
	}
}

type privateHistoryRequest struct {
	Between struct {
		UserA string `json:"userA"`
		UserB string `json:"userB"`
	} `json:"between"`
}

func (s *Server) handlePrivateHistory(c *gin.Context) {
	var req privateHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	a, b := strings.TrimSpace(req.Between.UserA), strings.TrimSpace(req.Between.UserB)
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "between.userA and between.userB are required"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	history, err := s.history.PrivateHistory(ctx, a, b)
	if err != nil {
		s.logger.Error().Err(err).Msg("Private history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history == nil {
		history = []store.ChatMessage{}
	}
	c.JSON(http.StatusOK, history)
}

// handleTestPage serves a small page for poking at the WebSocket protocol
// from a browser.
func (s *Server) handleTestPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(testPage))
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>CampusVinculum WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; background: #f9f9f9; font-family: monospace; }
        input { padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; background: #007cba; color: #fff; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>CampusVinculum WebSocket Test</h1>
    <div>
        <input id="username" placeholder="username">
        <input id="room" placeholder="room">
        <button onclick="joinRoom()">Join room</button>
    </div>
    <div style="margin-top:8px">
        <input id="text" placeholder="message" size="40">
        <button onclick="sendMessage()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        const log = document.getElementById('log');
        const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(scheme + location.host + '/ws');

        function append(line) {
            const div = document.createElement('div');
            div.textContent = line;
            log.appendChild(div);
            log.scrollTop = log.scrollHeight;
        }
        function emit(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }
        function joinRoom() {
            emit('join_room', {
                username: document.getElementById('username').value,
                room: document.getElementById('room').value
            });
        }
        function sendMessage() {
            const input = document.getElementById('text');
            emit('send_message', { text: input.value });
            input.value = '';
        }
        ws.onopen = () => append('connected');
        ws.onclose = () => append('disconnected');
        ws.onmessage = (e) => e.data.split('\n').forEach(append);
    </script>
</body>
</html>`
