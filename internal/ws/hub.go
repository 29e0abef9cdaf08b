package ws

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/backend/internal/room"
	protocol "github.com/manpreetbhatti/sketchroom/backend/internal/sync"
)

var ErrHubClosed = errors.New("hub closed")

// Cursor and roster colors, handed out round-robin
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A",
	"#98D8C8", "#F7DC6F", "#BB8FCE", "#85C1E2",
}

// Journal receives room activity. *db.Database implements it.
type Journal interface {
	Record(roomID, kind, userID string) error
}

type Options struct {
	DefaultRoom string

	// Connection attempts per remote address: refill per second and burst.
	// Zero disables the limit.
	ConnRate  float64
	ConnBurst int

	// Segment and cursor frames per connection. Zero uses the defaults.
	MessageRate  float64
	MessageBurst int
}

// A connected participant
type User struct {
	ID     string
	Name   string
	Color  string
	RoomID string
}

// Hub is the server context. It owns the rooms, the users and the color
// counter, and applies every connection event on one goroutine so all rooms
// observe a single arrival order.
type Hub struct {
	registry   *room.Registry
	users      map[string]*User
	clients    map[string]*Client
	colorIndex uint64
	journal    *journalWriter
	connLimits *ratelimit.Group
	msgRate    float64
	msgBurst   int

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	queries    chan func()
	done       chan struct{}
}

type inbound struct {
	client *Client
	msg    protocol.Inbound
	err    error
}

func NewHub(journal Journal, opts Options) *Hub {
	h := &Hub{
		registry:   room.NewRegistry(opts.DefaultRoom),
		users:      make(map[string]*User),
		clients:    make(map[string]*Client),
		msgRate:    messagesPerSecond,
		msgBurst:   messageBurst,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
	if journal != nil {
		h.journal = newJournalWriter(journal, journalBuffer)
	}
	if opts.ConnRate > 0 {
		h.connLimits = ratelimit.NewGroup(opts.ConnRate, opts.ConnBurst)
	}
	if opts.MessageRate > 0 {
		h.msgRate = opts.MessageRate
	}
	if opts.MessageBurst > 0 {
		h.msgBurst = opts.MessageBurst
	}
	return h
}

func (h *Hub) DefaultRoom() string {
	return h.registry.DefaultID()
}

// Run processes events until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	if h.journal != nil {
		go h.journal.run()
	}
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.connect(c)
		case c := <-h.unregister:
			h.disconnect(c)
		case in := <-h.inbound:
			if in.err != nil {
				h.reject(in.client, in.err)
				continue
			}
			h.handle(in.client, in.msg)
		case fn := <-h.queries:
			fn()
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	if h.connLimits != nil {
		h.connLimits.Stop()
	}
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	if h.journal != nil {
		h.journal.stop()
	}
	log.Printf("Hub stopped")
}

// inspect runs fn on the hub goroutine and waits for it.
func (h *Hub) inspect(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case h.queries <- wrapped:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (h *Hub) connect(c *Client) {
	user := &User{
		ID:    c.userID,
		Name:  fmt.Sprintf("User %d", len(h.users)+1),
		Color: palette[h.colorIndex%uint64(len(palette))],
	}
	h.colorIndex++

	rm := h.registry.JoinRoom(user.ID, c.roomID)
	if c.roomID != rm.ID {
		c.roomID = rm.ID
	}
	user.RoomID = rm.ID
	h.users[user.ID] = user
	h.clients[user.ID] = c

	roster := h.roster(rm)
	h.sendTo(c, protocol.TypeInit, protocol.InitPayload{
		UserID:  user.ID,
		History: rm.Drawing.History(),
		Users:   roster,
	})
	h.broadcastExcept(rm, user.ID, protocol.TypeUserJoined, protocol.UserJoinedPayload{Users: roster})
	h.record(rm.ID, db.EventJoin, user.ID)

	log.Printf("%s joined room %s (members: %d, connected: %d)", user.Name, rm.ID, rm.Size(), len(h.clients))
}

func (h *Hub) disconnect(c *Client) {
	if h.clients[c.userID] != c {
		return
	}

	if rm, ok := h.registry.Get(c.roomID); ok {
		rm.Drawing.Discard(c.userID)
	}
	destroyed := h.registry.LeaveRoom(c.userID, c.roomID)
	user := h.users[c.userID]
	delete(h.users, c.userID)
	delete(h.clients, c.userID)
	close(c.send)
	h.record(c.roomID, db.EventLeave, c.userID)

	if destroyed {
		log.Printf("%s left, room %s closed (empty)", user.Name, c.roomID)
		return
	}
	if rm, ok := h.registry.Get(c.roomID); ok {
		h.broadcastAll(rm, protocol.TypeUserLeft, protocol.UserLeftPayload{
			UserID: c.userID,
			Users:  h.roster(rm),
		})
		log.Printf("%s left room %s (remaining: %d)", user.Name, rm.ID, rm.Size())
	}
}

func (h *Hub) handle(c *Client, msg protocol.Inbound) {
	if h.clients[c.userID] != c {
		return
	}
	rm, ok := h.registry.Get(c.roomID)
	if !ok {
		return
	}

	switch m := msg.(type) {
	case protocol.SegmentEvent:
		rm.Drawing.AddSegment(c.userID, m.Segment)
		h.broadcastExcept(rm, c.userID, protocol.TypeSegment, protocol.SegmentPayload{
			Segment: m.Segment,
			UserID:  c.userID,
		})

	case protocol.StrokeEndEvent:
		if rm.Drawing.Finalize(c.userID) {
			h.record(rm.ID, db.EventStroke, c.userID)
		}
		h.broadcastExcept(rm, c.userID, protocol.TypeStrokeEnd, protocol.StrokeEndPayload{UserID: c.userID})

	case protocol.CursorMoveEvent:
		user := h.users[c.userID]
		h.broadcastExcept(rm, c.userID, protocol.TypeCursorMove, protocol.CursorPayload{
			UserID: c.userID,
			X:      m.X,
			Y:      m.Y,
			Color:  user.Color,
			Name:   user.Name,
		})

	case protocol.UndoEvent:
		history := rm.Drawing.Undo()
		h.record(rm.ID, db.EventUndo, c.userID)
		h.broadcastAll(rm, protocol.TypeUndo, protocol.HistoryPayload{History: history})

	case protocol.RedoEvent:
		history := rm.Drawing.Redo()
		h.record(rm.ID, db.EventRedo, c.userID)
		h.broadcastAll(rm, protocol.TypeRedo, protocol.HistoryPayload{History: history})

	case protocol.ClearEvent:
		rm.Drawing.Clear()
		h.record(rm.ID, db.EventClear, c.userID)
		h.broadcastAll(rm, protocol.TypeClear, nil)

	case protocol.ResyncEvent:
		h.sendTo(c, protocol.TypeInit, protocol.InitPayload{
			UserID:  c.userID,
			History: rm.Drawing.History(),
			Users:   h.roster(rm),
		})

	default:
		log.Printf("Unhandled message %T from %s", msg, c.userID)
	}
}

// reject tells the sender its frame was dropped.
func (h *Hub) reject(c *Client, err error) {
	if h.clients[c.userID] != c {
		return
	}
	payload := protocol.ErrorPayload{Message: err.Error()}
	var verr *protocol.ValidationError
	var rerr *protocol.RateLimitError
	switch {
	case errors.As(err, &verr):
		payload.Type = verr.Type
	case errors.As(err, &rerr):
		payload.Type = rerr.Type
	}
	h.sendTo(c, protocol.TypeError, payload)
}

func (h *Hub) roster(rm *room.Room) []protocol.UserInfo {
	members := rm.Members()
	users := make([]protocol.UserInfo, 0, len(members))
	for _, id := range members {
		if u, ok := h.users[id]; ok {
			users = append(users, protocol.UserInfo{ID: u.ID, Name: u.Name, Color: u.Color})
		}
	}
	return users
}

func (h *Hub) sendTo(c *Client, t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Printf("Failed to encode %s: %v", t, err)
		return
	}
	h.deliver(c, data)
}

func (h *Hub) broadcastExcept(rm *room.Room, senderID string, t protocol.MessageType, payload any) {
	h.fanOut(rm, senderID, t, payload)
}

func (h *Hub) broadcastAll(rm *room.Room, t protocol.MessageType, payload any) {
	h.fanOut(rm, "", t, payload)
}

func (h *Hub) fanOut(rm *room.Room, skip string, t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Printf("Failed to encode %s: %v", t, err)
		return
	}
	for _, id := range rm.Members() {
		if id == skip {
			continue
		}
		if c, ok := h.clients[id]; ok {
			h.deliver(c, data)
		}
	}
}

// deliver queues data without blocking the loop. A client that cannot keep
// up is kicked; its read pump then unregisters it.
func (h *Hub) deliver(c *Client, data []byte) {
	if c.kicked {
		return
	}
	select {
	case c.send <- data:
	default:
		c.kicked = true
		log.Printf("⚠️ Send buffer full for %s in room %s, dropping connection", c.userID, c.roomID)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) record(roomID, kind, userID string) {
	if h.journal == nil {
		return
	}
	h.journal.enqueue(activity{roomID: roomID, kind: kind, userID: userID})
}

// Live view of a room, for the HTTP API
type RoomSummary struct {
	ID          string `json:"id"`
	ActiveUsers int    `json:"active_users"`
	Strokes     int    `json:"strokes"`
	OpenStrokes int    `json:"open_strokes"`
	RedoDepth   int    `json:"redo_depth"`
}

type RoomDetail struct {
	RoomSummary
	Users   []protocol.UserInfo `json:"users"`
	History []drawing.Stroke    `json:"history"`
}

func summarize(rm *room.Room) RoomSummary {
	return RoomSummary{
		ID:          rm.ID,
		ActiveUsers: rm.Size(),
		Strokes:     rm.Drawing.Len(),
		OpenStrokes: rm.Drawing.OpenCount(),
		RedoDepth:   rm.Drawing.RedoDepth(),
	}
}

// Rooms lists every live room.
func (h *Hub) Rooms(ctx context.Context) ([]RoomSummary, error) {
	var out []RoomSummary
	err := h.inspect(ctx, func() {
		rooms := h.registry.Rooms()
		out = make([]RoomSummary, 0, len(rooms))
		for _, rm := range rooms {
			out = append(out, summarize(rm))
		}
	})
	return out, err
}

// Room returns a live room with its roster and history, or nil if absent.
func (h *Hub) Room(ctx context.Context, id string) (*RoomDetail, error) {
	var out *RoomDetail
	err := h.inspect(ctx, func() {
		rm, ok := h.registry.Get(id)
		if !ok {
			return
		}
		out = &RoomDetail{
			RoomSummary: summarize(rm),
			Users:       h.roster(rm),
			History:     rm.Drawing.History(),
		}
	})
	return out, err
}

// Counts returns the number of live rooms and connected clients.
func (h *Hub) Counts(ctx context.Context) (rooms, clients int, err error) {
	err = h.inspect(ctx, func() {
		rooms = h.registry.Len()
		clients = len(h.clients)
	})
	return rooms, clients, err
}
