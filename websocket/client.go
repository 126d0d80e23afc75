package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"safewalk/models"
	"safewalk/providers"
	"safewalk/services"
	"safewalk/utils"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Capability responses carry
	// base64 photos.
	maxMessageSize = 16 * 1024 * 1024

	// Buffer size for client send channel
	sendBufferSize = 256
)

var errSendBufferFull = errors.New("send buffer full")

// Client is one device connection. Besides relaying commands it is the
// capability bridge of the device's session.
type Client struct {
	// WebSocket connection
	conn *websocket.Conn

	// Connection metadata
	connectionID string
	connectedAt  time.Time
	ipAddress    string
	userAgent    string

	// Buffered channel of outbound messages
	send chan models.WSMessage

	// Hub reference
	hub *Hub

	rateLimiter *rate.Limiter

	mu          sync.Mutex
	session     *services.Session
	unsubscribe func()
	opening     bool
	registered  bool
	closed      bool
	pending     map[string]chan models.WSCapabilityResponse
	watches     map[string]func(json.RawMessage, error)

	// Context for cleanup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, r *http.Request) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		conn:         conn,
		hub:          hub,
		send:         make(chan models.WSMessage, sendBufferSize),
		connectionID: utils.GenerateUUID(),
		connectedAt:  time.Now(),
		ipAddress:    getClientIP(r),
		userAgent:    r.UserAgent(),
		rateLimiter:  newCommandLimiter(hub.commandRate),
		pending:      make(map[string]chan models.WSCapabilityResponse),
		watches:      make(map[string]func(json.RawMessage, error)),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (c *Client) ReadPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			_, messageData, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Errorf("WebSocket error for connection %s: %v", c.connectionID, err)
				}
				return
			}

			c.handleMessage(messageData)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				logrus.Errorf("Write error for connection %s: %v", c.connectionID, err)
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.Warnf("Ping failed for connection %s, disconnecting", c.connectionID)
				c.cancel()
				return
			}
		}
	}
}

// Invoke sends a capability request to the device and waits for its answer
func (c *Client) Invoke(ctx context.Context, method string, params interface{}, result interface{}) error {
	requestID := utils.GenerateUUID()
	replies := make(chan models.WSCapabilityResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return providers.ErrBridgeClosed
	}
	c.pending[requestID] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	err := c.enqueue(models.WSMessage{
		Type:      models.WSTypeCapabilityRequest,
		RequestID: requestID,
		Data: models.WSCapabilityRequest{
			Method: method,
			Params: params,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	select {
	case resp := <-replies:
		if !resp.OK {
			if resp.Error == nil {
				return &providers.RemoteError{Code: providers.CodeUnknown}
			}
			return &providers.RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-c.ctx.Done():
		return providers.ErrBridgeClosed
	}
}

// Watch registers onEvent for a device-side subscription and starts it.
// The device tags every event with the returned watch id.
func (c *Client) Watch(ctx context.Context, method string, params interface{}, onEvent func(json.RawMessage, error)) (string, error) {
	watchID := utils.GenerateUUID()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", providers.ErrBridgeClosed
	}
	c.watches[watchID] = onEvent
	c.mu.Unlock()

	err := c.Invoke(ctx, method, map[string]interface{}{
		"watchId": watchID,
		"options": params,
	}, nil)
	if err != nil {
		c.Unwatch(watchID)
		return "", err
	}

	return watchID, nil
}

func (c *Client) Unwatch(watchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watches, watchID)
}

func (c *Client) handleCapabilityResponse(request models.WSRequest) {
	var resp models.WSCapabilityResponse
	if err := json.Unmarshal(request.Data, &resp); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid capability response", request.RequestID)
		return
	}

	c.mu.Lock()
	replies, ok := c.pending[request.RequestID]
	c.mu.Unlock()

	if !ok {
		logrus.Debugf("Late capability response %s on connection %s", request.RequestID, c.connectionID)
		return
	}

	select {
	case replies <- resp:
	default:
	}
}

func (c *Client) handleCapabilityEvent(request models.WSRequest) {
	var event models.WSCapabilityEvent
	if err := json.Unmarshal(request.Data, &event); err != nil {
		c.sendError(models.WSErrorInvalidMessage, "Invalid capability event", request.RequestID)
		return
	}

	c.mu.Lock()
	handler := c.watches[event.WatchID]
	c.mu.Unlock()

	if handler == nil {
		return
	}

	if event.Error != nil {
		handler(nil, &providers.RemoteError{Code: event.Error.Code, Message: event.Error.Message})
		return
	}
	handler(event.Payload, nil)
}

func (c *Client) handleHello(request models.WSRequest) {
	var hello models.WSHello
	if len(request.Data) > 0 {
		if err := json.Unmarshal(request.Data, &hello); err != nil {
			c.sendError(models.WSErrorInvalidMessage, "Invalid hello", request.RequestID)
			return
		}
	}
	if hello.UserAgent == "" {
		hello.UserAgent = c.userAgent
	}

	c.mu.Lock()
	if c.session != nil || c.opening {
		c.mu.Unlock()
		c.sendError(models.WSErrorConflict, "Session already established", request.RequestID)
		return
	}
	c.opening = true
	c.mu.Unlock()

	// Opening probes the device, so it cannot block the read loop that
	// delivers the answers
	go c.openSession(hello, request.RequestID)
}

func (c *Client) openSession(hello models.WSHello, requestID string) {
	session, err := c.hub.sessions.Open(c.ctx, c, hello)
	if err != nil {
		c.mu.Lock()
		c.opening = false
		c.mu.Unlock()
		c.sendServiceError(err, requestID)
		return
	}

	unsubscribe := session.Coordinator.Subscribe(func(snap models.SafetySnapshot) {
		c.SendMessage(models.WSMessage{
			Type:      models.WSTypeState,
			Data:      snap,
			Timestamp: time.Now(),
		})
	})

	c.mu.Lock()
	c.opening = false
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		session.MarkDisconnected(time.Now())
		return
	}
	c.session = session
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	snap := session.Coordinator.Snapshot()
	c.SendMessage(models.WSMessage{
		Type:      models.WSTypeSession,
		RequestID: requestID,
		Data: models.WSSession{
			SessionID: session.ID,
			Token:     session.Token,
			ExpiresAt: session.ExpiresAt,
			IsNative:  snap.IsNative,
		},
		Timestamp: time.Now(),
	})
	c.SendMessage(models.WSMessage{
		Type:      models.WSTypeState,
		Data:      snap,
		Timestamp: time.Now(),
	})

	c.register()
}

// register adds the client to the hub. cleanup only unregisters a client it
// saw registered, so a disconnect that raced the registration is undone here.
func (c *Client) register() {
	c.hub.Register(c)

	c.mu.Lock()
	c.registered = true
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.hub.Unregister(c)
	}
}

func (c *Client) currentSession() *services.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SessionID returns the id of the attached session, or ""
func (c *Client) SessionID() string {
	if session := c.currentSession(); session != nil {
		return session.ID
	}
	return ""
}

func (c *Client) SendMessage(message models.WSMessage) {
	if err := c.enqueue(message); err != nil && !errors.Is(err, providers.ErrBridgeClosed) {
		logrus.Warnf("Dropping %s message for connection %s: %v", message.Type, c.connectionID, err)
	}
}

func (c *Client) enqueue(message models.WSMessage) error {
	if c.ctx.Err() != nil {
		return providers.ErrBridgeClosed
	}

	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return providers.ErrBridgeClosed
	default:
		return errSendBufferFull
	}
}

// Close disconnects the device
func (c *Client) Close() {
	c.cancel()
}

func (c *Client) cleanup() {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		c.closed = true
		session := c.session
		unsubscribe := c.unsubscribe
		registered := c.registered
		c.watches = make(map[string]func(json.RawMessage, error))
		c.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if session != nil {
			session.MarkDisconnected(time.Now())
		}
		if registered {
			c.hub.Unregister(c)
		}

		c.conn.Close()

		logrus.Infof("Client disconnected: %s (%s)", c.SessionID(), c.connectionID)
	})
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	return r.RemoteAddr
}
