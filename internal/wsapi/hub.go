// Package wsapi is the WebSocket ingress adapter: it upgrades
// /ws/events connections and streams AssignmentEvent JSON frames to the
// browser dashboard, in the ping/pong-keepalive, write-deadline idiom of
// a gorilla/websocket broadcast hub, carrying assignment events instead
// of arbitrary world diffs.
package wsapi

import (
	"net/http"
	"strings"
	"time"

	"fleetroute/dispatch/internal/eventbus"
	"fleetroute/dispatch/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Hub upgrades HTTP connections to WebSocket and fans Event Bus traffic
// out to each connected browser.
type Hub struct {
	bus            *eventbus.Bus
	logger         *logging.Logger
	allowedOrigins map[string]struct{}
	upgrader       websocket.Upgrader
}

// NewHub constructs a Hub publishing events from bus to every connected
// client. An empty allowedOrigins disables origin checking (local dev
// only); a non-empty list restricts upgrades to those origins.
func NewHub(bus *eventbus.Bus, logger *logging.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = logging.L()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	h := &Hub{bus: bus, logger: logger, allowedOrigins: origins}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
	if origin == "" {
		return false
	}
	_, ok := h.allowedOrigins[origin]
	return ok
}

// ServeHTTP upgrades the request and runs the connection's reader/writer
// goroutines until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	subscriberID := uuid.NewString()
	sub := h.bus.Subscribe(subscriberID)

	client := &wsClient{conn: conn}

	go client.writeLoop(h.logger, sub)
	client.readLoop(h.logger, func() { h.bus.Unsubscribe(subscriberID) })
}

type wsClient struct {
	conn *websocket.Conn
}

// readLoop only exists to detect disconnects and keep the pong handler
// alive; the dashboard never sends application messages over this socket.
func (c *wsClient) readLoop(logger *logging.Logger, onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logging.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writeLoop(logger *logging.Logger, sub *eventbus.Subscription) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, open := <-sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if missed := sub.MissedCount(); missed > 0 {
				event.MissedEventCount = missed
			}
			if err := c.conn.WriteJSON(event); err != nil {
				logger.Warn("websocket write error", logging.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				logger.Warn("ping failure", logging.Error(err))
				return
			}
		}
	}
}
