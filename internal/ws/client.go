package ws

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/backend/internal/room"
	protocol "github.com/manpreetbhatti/sketchroom/backend/internal/sync"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 64 * 1024
	sendBuffer        = 512
	messagesPerSecond = 400
	messageBurst      = 800
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection. Fields other than send and conn are
// touched only by the hub goroutine once registered.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	userID      string
	rateLimiter *ratelimit.Limiter
	kicked      bool
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = hub.DefaultRoom()
	}
	if !room.ValidID(roomID) {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}

	if hub.connLimits != nil && !hub.connLimits.Allow(remoteHost(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		roomID:      roomID,
		userID:      uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(hub.msgRate, hub.msgBurst),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0
	segmentDropped := false

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		msg, err := protocol.ParseInbound(message)
		if err != nil {
			log.Printf("⚠️ Invalid message from %s: %v", c.userID, err)
		}

		if err == nil && protocol.RateLimited(msg.Kind()) {
			if !c.rateLimiter.Allow() {
				rateLimitWarnings++
				if rateLimitWarnings%100 == 1 {
					log.Printf("⚠️ Rate limit exceeded for %s in room %s (warning #%d)",
						c.userID, c.roomID, rateLimitWarnings)
				}
				if rateLimitWarnings > 1000 {
					log.Printf("🚫 Disconnecting %s for excessive rate limit violations", c.userID)
					return
				}
				// Cursor frames are disposable. A lost segment is reported
				// once per stroke so the sender can resync.
				if msg.Kind() != protocol.TypeSegment || segmentDropped {
					continue
				}
				segmentDropped = true
				err = &protocol.RateLimitError{Type: msg.Kind()}
				msg = nil
			}
		} else if err == nil && msg.Kind() == protocol.TypeStrokeEnd {
			segmentDropped = false
		}

		select {
		case c.hub.inbound <- inbound{client: c, msg: msg, err: err}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
