package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/iago/autoconnect-pipeline/internal/events"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// UpdatesHub relays job_updates messages to every connected websocket client.
type UpdatesHub struct {
	signals *events.Signals
	logger  logrus.FieldLogger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewUpdatesHub(signals *events.Signals, logger logrus.FieldLogger) *UpdatesHub {
	return &UpdatesHub{
		signals: signals,
		logger:  logger.WithField("component", "updates_hub"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Run forwards job updates until ctx is cancelled, then disconnects every
// client.
func (h *UpdatesHub) Run(ctx context.Context) error {
	sub, err := h.signals.SubscribeJobUpdates(ctx)
	if err != nil {
		return fmt.Errorf("subscribe job updates: %w", err)
	}
	defer sub.Close()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-sub.Messages():
			h.Broadcast(message)
		}
	}
}

// Broadcast writes message to every client, dropping those that fail.
func (h *UpdatesHub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.WithError(err).Debug("dropping websocket client")
			_ = client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *UpdatesHub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *UpdatesHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.WithField("clients", total).Info("websocket client connected")
}

func (h *UpdatesHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.WithField("clients", total).Info("websocket client disconnected")
}

func (h *UpdatesHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.Close()
		delete(h.clients, client)
	}
}

// JobUpdates upgrades GET /api/ws/jobs. Clients only receive; anything they
// send is discarded and a read error ends the session.
func (api *API) JobUpdates(w http.ResponseWriter, r *http.Request) {
	if api.updates == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "job updates are disabled")
		return
	}
	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	api.updates.register(conn)

	go func() {
		defer api.updates.unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func originChecker(allowed []string) func(*http.Request) bool {
	origins := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, candidate := range origins {
			if candidate == "*" || strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}
