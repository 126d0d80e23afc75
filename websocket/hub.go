package websocket

import (
	"context"
	"net/http"
	"safewalk/services"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const defaultCommandRate = 60

// Hub tracks live device connections and the sessions they carry
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Session to client mapping
	sessionClients map[string]*Client

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	sessions    *services.SessionService
	upgrader    websocket.Upgrader
	commandRate int

	// Hub statistics
	stats HubStats

	// Mutex for thread safety
	mutex sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc

	metricsTicker *time.Ticker
}

type HubStats struct {
	TotalConnections  int64     `json:"totalConnections"`
	ActiveConnections int       `json:"activeConnections"`
	StartTime         time.Time `json:"startTime"`
	LastUpdate        time.Time `json:"lastUpdate"`
}

type HubOptions struct {
	AllowedOrigins []string
	// Commands per minute per connection
	CommandRate int
}

func NewHub(sessions *services.SessionService, opts HubOptions) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.CommandRate <= 0 {
		opts.CommandRate = defaultCommandRate
	}

	return &Hub{
		clients:        make(map[*Client]bool),
		sessionClients: make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		sessions:       sessions,
		upgrader:       NewUpgrader(opts.AllowedOrigins),
		commandRate:    opts.CommandRate,
		stats: HubStats{
			StartTime: time.Now(),
		},
		ctx:           ctx,
		cancel:        cancel,
		metricsTicker: time.NewTicker(time.Minute),
	}
}

func (h *Hub) Run() {
	logrus.Info("WebSocket Hub starting...")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.metricsTicker.C:
			h.logMetrics()

		case <-h.ctx.Done():
			logrus.Info("WebSocket Hub shutting down...")
			return
		}
	}
}

// ServeWS upgrades the request and starts the client pumps
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, h, r)
	go client.WritePump()
	go client.ReadPump()

	logrus.Infof("Device connected: %s from %s", client.connectionID, client.ipAddress)
	return nil
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sessionID := client.SessionID()
	h.clients[client] = true
	h.sessionClients[sessionID] = client
	h.stats.ActiveConnections++
	h.stats.TotalConnections++
	h.stats.LastUpdate = time.Now()

	logrus.Infof("Client registered: %s (Total: %d)", sessionID, h.stats.ActiveConnections)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		sessionID := client.SessionID()
		delete(h.clients, client)
		if h.sessionClients[sessionID] == client {
			delete(h.sessionClients, sessionID)
		}
		h.stats.ActiveConnections--
		h.stats.LastUpdate = time.Now()

		logrus.Infof("Client unregistered: %s (Total: %d)", sessionID, h.stats.ActiveConnections)
	}
}

// IsSessionConnected reports whether a device is attached to the session
func (h *Hub) IsSessionConnected(sessionID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.sessionClients[sessionID]
	return ok
}

// DisconnectSession closes the connection of a session, if any
func (h *Hub) DisconnectSession(sessionID string) bool {
	h.mutex.RLock()
	client := h.sessionClients[sessionID]
	h.mutex.RUnlock()

	if client == nil {
		return false
	}
	client.Close()
	return true
}

func (h *Hub) GetStats() HubStats {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.stats
}

func (h *Hub) logMetrics() {
	stats := h.GetStats()
	logrus.WithFields(logrus.Fields{
		"activeConnections": stats.ActiveConnections,
		"totalConnections":  stats.TotalConnections,
		"sessions":          h.sessions.Count(),
	}).Debug("WebSocket hub metrics")
}

// Shutdown disconnects every client and stops the hub loop
func (h *Hub) Shutdown() {
	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.Close()
	}

	h.metricsTicker.Stop()
	h.cancel()
}
