package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vennela115/CampusVinculum/internal/coordinator"
	"github.com/Vennela115/CampusVinculum/internal/logx"
)

// Hub owns the set of live clients. It registers them with the coordinator,
// launches their goroutines and tears everything down on shutdown.
type Hub struct {
	clients     map[*Client]struct{}
	coordinator *coordinator.Coordinator
	register    chan *Client
	unregister  chan *Client
	mutex       sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	logger      zerolog.Logger
}

// NewHub creates a Hub that routes client events to coord.
func NewHub(coord *coordinator.Coordinator) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[*Client]struct{}),
		coordinator: coord,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logx.Component("Hub"),
	}
}

// Coordinator returns the coordinator the hub dispatches to.
func (h *Hub) Coordinator() *coordinator.Coordinator {
	return h.coordinator
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a client to the hub. It returns false when the hub is
// shutting down; the caller then owns the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				count := len(h.clients)
				h.mutex.Unlock()
				h.logger.Info().
					Str("conn_id", client.id).
					Str("remote_addr", client.addr).
					Int("clients", count).
					Msg("Client unregistered")
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

func (h *Hub) addClient(client *Client) {
	if err := h.coordinator.Connect(client); err != nil {
		h.logger.Error().Err(err).Str("conn_id", client.id).Msg("Rejecting client")
		client.Close()
		client.closeConnection()
		return
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info().
		Str("conn_id", client.id).
		Str("remote_addr", client.addr).
		Int("clients", count).
		Msg("Client registered")

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	go func() {
		defer h.wg.Done()
		client.dispatchLoop()
	}()
}

func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()

	for _, client := range clients {
		client.Close()
	}
	h.logger.Info().Int("clients", len(clients)).Msg("Closed client connections")
}

// Shutdown stops the hub, closes every client and waits for their pumps,
// dispatch loops and disconnect cleanup to finish. It returns
// context.DeadlineExceeded when timeout elapses first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("Initiating hub shutdown")
	h.cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-h.done:
	case <-deadline.C:
		h.logger.Warn().Msg("Hub loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info().Msg("Hub shutdown completed")
		return nil
	case <-deadline.C:
		h.logger.Warn().Msg("Hub shutdown timeout reached; some clients may still be running")
		return context.DeadlineExceeded
	}
}
