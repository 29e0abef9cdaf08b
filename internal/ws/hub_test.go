package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
	protocol "github.com/manpreetbhatti/sketchroom/backend/internal/sync"
)

// Records journal calls in memory
type MockJournal struct {
	mu     sync.Mutex
	events []string
}

func (j *MockJournal) Record(roomID, kind, userID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, roomID+":"+kind+":"+userID)
	return nil
}

func (j *MockJournal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type frame struct {
	Type protocol.MessageType `json:"type"`
	Data json.RawMessage      `json:"data"`
}

// A client without a socket; the test reads its send channel directly.
func newMockClient(h *Hub, id, roomID string) *Client {
	return &Client{
		hub:    h,
		send:   make(chan []byte, 64),
		roomID: roomID,
		userID: id,
	}
}

func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var frames []frame
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return frames
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				t.Fatalf("Bad frame %s: %v", data, err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func only(t *testing.T, c *Client, want protocol.MessageType) frame {
	t.Helper()
	frames := drain(t, c)
	if len(frames) != 1 {
		t.Fatalf("Expected exactly one %s frame for %s, got %+v", want, c.userID, frames)
	}
	if frames[0].Type != want {
		t.Fatalf("Expected %s frame for %s, got %s", want, c.userID, frames[0].Type)
	}
	return frames[0]
}

func none(t *testing.T, c *Client) {
	t.Helper()
	if frames := drain(t, c); len(frames) != 0 {
		t.Fatalf("Expected no frames for %s, got %+v", c.userID, frames)
	}
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("Bad %s payload %s: %v", f.Type, f.Data, err)
	}
	return v
}

func testSegment(x float64) protocol.SegmentEvent {
	return protocol.SegmentEvent{Segment: drawing.Segment{
		StartX: x, StartY: x, EndX: x + 10, EndY: x + 10,
		Color: "#FF0000", Width: 3, Tool: drawing.ToolBrush,
	}}
}

// Connects clients and discards their join traffic.
func setupRoom(t *testing.T, h *Hub, roomID string, ids ...string) []*Client {
	t.Helper()
	clients := make([]*Client, len(ids))
	for i, id := range ids {
		clients[i] = newMockClient(h, id, roomID)
		h.connect(clients[i])
	}
	for _, c := range clients {
		drain(t, c)
	}
	return clients
}

func TestHubCreation(t *testing.T) {
	hub := NewHub(nil, Options{})
	if hub == nil {
		t.Fatal("Hub should not be nil")
	}
	if hub.DefaultRoom() != "default" {
		t.Errorf("Expected default room 'default', got %q", hub.DefaultRoom())
	}
	if hub.connLimits != nil {
		t.Error("Connection limiter should be off by default")
	}
}

func TestConnectSendsSnapshot(t *testing.T) {
	hub := NewHub(nil, Options{})
	a := newMockClient(hub, "A", "")
	hub.connect(a)

	snap := decode[protocol.InitPayload](t, only(t, a, protocol.TypeInit))
	if snap.UserID != "A" {
		t.Errorf("Expected userId A, got %s", snap.UserID)
	}
	if snap.History == nil || len(snap.History) != 0 {
		t.Errorf("Expected empty history, got %v", snap.History)
	}
	if len(snap.Users) != 1 || snap.Users[0].Name != "User 1" || snap.Users[0].Color != palette[0] {
		t.Errorf("Unexpected roster %+v", snap.Users)
	}

	b := newMockClient(hub, "B", "")
	hub.connect(b)

	joined := decode[protocol.UserJoinedPayload](t, only(t, a, protocol.TypeUserJoined))
	if len(joined.Users) != 2 || joined.Users[1].ID != "B" || joined.Users[1].Name != "User 2" {
		t.Errorf("Unexpected roster %+v", joined.Users)
	}
	// B gets its snapshot, not the user-joined broadcast.
	only(t, b, protocol.TypeInit)
}

func TestSnapshotCarriesHistory(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A")
	a := clients[0]

	hub.handle(a, testSegment(0))
	hub.handle(a, protocol.StrokeEndEvent{})
	hub.handle(a, testSegment(50))
	hub.handle(a, protocol.StrokeEndEvent{})

	late := newMockClient(hub, "C", "")
	hub.connect(late)

	type rawSnapshot struct {
		History json.RawMessage `json:"history"`
	}
	snap := decode[rawSnapshot](t, only(t, late, protocol.TypeInit))

	rm, _ := hub.registry.Get("")
	want, err := json.Marshal(rm.Drawing.History())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(snap.History, want) {
		t.Errorf("Snapshot history differs from server history:\n got %s\nwant %s", snap.History, want)
	}

	var strokes []drawing.Stroke
	if err := json.Unmarshal(snap.History, &strokes); err != nil {
		t.Fatalf("Bad history %s: %v", snap.History, err)
	}
	if !reflect.DeepEqual(strokes, rm.Drawing.History()) || len(strokes) != 2 {
		t.Errorf("Expected 2 identical strokes, got %+v", strokes)
	}
}

func TestSegmentRelayedToOthers(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B", "C")
	a, b, c := clients[0], clients[1], clients[2]

	hub.handle(a, testSegment(0))

	none(t, a)
	for _, other := range []*Client{b, c} {
		got := decode[protocol.SegmentPayload](t, only(t, other, protocol.TypeSegment))
		if got.UserID != "A" || got.EndX != 10 || got.Color != "#FF0000" {
			t.Errorf("Unexpected relayed segment %+v", got)
		}
	}

	hub.handle(a, protocol.StrokeEndEvent{})
	none(t, a)
	if end := decode[protocol.StrokeEndPayload](t, only(t, b, protocol.TypeStrokeEnd)); end.UserID != "A" {
		t.Errorf("Expected stroke-end from A, got %s", end.UserID)
	}
	only(t, c, protocol.TypeStrokeEnd)

	rm, _ := hub.registry.Get("")
	if rm.Drawing.Len() != 1 {
		t.Errorf("Expected 1 stroke in history, got %d", rm.Drawing.Len())
	}
}

func TestCursorRelayCarriesIdentity(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.handle(b, protocol.CursorMoveEvent{X: 12, Y: 34})

	none(t, b)
	cur := decode[protocol.CursorPayload](t, only(t, a, protocol.TypeCursorMove))
	if cur.UserID != "B" || cur.X != 12 || cur.Y != 34 || cur.Name != "User 2" || cur.Color != palette[1] {
		t.Errorf("Unexpected cursor payload %+v", cur)
	}

	rm, _ := hub.registry.Get("")
	if rm.Drawing.OpenCount() != 0 || rm.Drawing.Len() != 0 {
		t.Error("Cursor moves must not touch drawing state")
	}
}

func TestUndoRedoBroadcastToAll(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.handle(a, testSegment(0))
	hub.handle(a, protocol.StrokeEndEvent{})
	drain(t, b)

	// B undoes A's stroke: undo is room-global.
	hub.handle(b, protocol.UndoEvent{})
	for _, c := range clients {
		got := decode[protocol.HistoryPayload](t, only(t, c, protocol.TypeUndo))
		if got.History == nil || len(got.History) != 0 {
			t.Errorf("Expected empty history for %s, got %+v", c.userID, got.History)
		}
	}

	hub.handle(a, protocol.RedoEvent{})
	for _, c := range clients {
		got := decode[protocol.HistoryPayload](t, only(t, c, protocol.TypeRedo))
		if len(got.History) != 1 || got.History[0].AuthorID != "A" {
			t.Errorf("Expected A's stroke back for %s, got %+v", c.userID, got.History)
		}
	}
}

func TestClearBroadcastToAll(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.handle(a, testSegment(0))
	hub.handle(a, protocol.StrokeEndEvent{})
	hub.handle(a, testSegment(1))
	hub.handle(a, testSegment(2))
	drain(t, b)

	hub.handle(b, protocol.ClearEvent{})
	for _, c := range clients {
		f := only(t, c, protocol.TypeClear)
		if len(f.Data) != 0 {
			t.Errorf("Clear should carry no payload, got %s", f.Data)
		}
	}

	rm, _ := hub.registry.Get("")
	if rm.Drawing.Len() != 0 || rm.Drawing.OpenCount() != 0 || rm.Drawing.RedoDepth() != 0 {
		t.Fatal("Clear should empty the room's drawing")
	}

	// A's pen-up after clear finalizes nothing.
	hub.handle(a, protocol.StrokeEndEvent{})
	if rm.Drawing.Len() != 0 {
		t.Error("stroke-end after clear should not add a stroke")
	}
}

func TestDisconnectMidStroke(t *testing.T) {
	journal := &MockJournal{}
	hub := NewHub(journal, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.handle(a, testSegment(0))
	drain(t, b)
	hub.disconnect(a)

	left := decode[protocol.UserLeftPayload](t, only(t, b, protocol.TypeUserLeft))
	if left.UserID != "A" || len(left.Users) != 1 || left.Users[0].ID != "B" {
		t.Errorf("Unexpected user-left payload %+v", left)
	}

	if _, ok := <-a.send; ok {
		t.Error("Disconnected client's send channel should be closed")
	}

	rm, _ := hub.registry.Get("")
	if rm.Drawing.OpenCount() != 0 || rm.Drawing.Len() != 0 {
		t.Error("Open stroke should be discarded on disconnect")
	}

	// Reconnecting as a new connection does not resurrect it.
	again := newMockClient(hub, "A2", "")
	hub.connect(again)
	snap := decode[protocol.InitPayload](t, only(t, again, protocol.TypeInit))
	if len(snap.History) != 0 {
		t.Errorf("Expected empty history, got %+v", snap.History)
	}

	events := journal.Events()
	if len(events) == 0 || events[len(events)-2] != "default:leave:A" {
		t.Errorf("Expected leave recorded, got %v", events)
	}

	// A stale unregister is ignored.
	hub.disconnect(a)
}

func TestNamesAndColors(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	hub.disconnect(clients[0])

	c := newMockClient(hub, "C", "")
	hub.connect(c)

	// Name follows the live count; color counter never resets.
	user := hub.users["C"]
	if user.Name != "User 2" {
		t.Errorf("Expected User 2, got %s", user.Name)
	}
	if user.Color != palette[2] {
		t.Errorf("Expected %s, got %s", palette[2], user.Color)
	}

	for i := 0; i < len(palette); i++ {
		hub.connect(newMockClient(hub, string(rune('a'+i)), ""))
	}
	if got := hub.users["h"].Color; got != palette[(2+8)%len(palette)] {
		t.Errorf("Palette should wrap, got %s", got)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	hub := NewHub(nil, Options{})
	red := setupRoom(t, hub, "red", "A", "B")
	blue := setupRoom(t, hub, "blue", "C")

	hub.handle(red[0], testSegment(0))
	only(t, red[1], protocol.TypeSegment)
	hub.handle(red[0], protocol.StrokeEndEvent{})
	only(t, red[1], protocol.TypeStrokeEnd)

	hub.handle(blue[0], protocol.UndoEvent{})
	only(t, blue[0], protocol.TypeUndo)
	none(t, red[0])
	none(t, red[1])

	redRoom, _ := hub.registry.Get("red")
	if redRoom.Drawing.Len() != 1 {
		t.Errorf("Undo in blue must not affect red, red has %d strokes", redRoom.Drawing.Len())
	}

	hub.disconnect(blue[0])
	if _, ok := hub.registry.Get("blue"); ok {
		t.Error("Empty non-default room should be destroyed")
	}
	none(t, red[0])
	none(t, red[1])
}

func TestRejectNotifiesSenderOnly(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	_, err := protocol.ParseInbound([]byte(`{"type":"segment","data":{"startX":1}}`))
	if err == nil {
		t.Fatal("Expected parse error")
	}
	hub.reject(a, err)

	payload := decode[protocol.ErrorPayload](t, only(t, a, protocol.TypeError))
	if payload.Type != protocol.TypeSegment || payload.Message == "" {
		t.Errorf("Unexpected error payload %+v", payload)
	}
	none(t, b)

	rm, _ := hub.registry.Get("")
	if rm.Drawing.OpenCount() != 0 {
		t.Error("Rejected segment must not reach state")
	}
}

func TestResync(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.handle(a, testSegment(0))
	hub.handle(a, protocol.StrokeEndEvent{})
	drain(t, b)

	hub.handle(b, protocol.ResyncEvent{})
	snap := decode[protocol.InitPayload](t, only(t, b, protocol.TypeInit))
	if snap.UserID != "B" || len(snap.History) != 1 || len(snap.Users) != 2 {
		t.Errorf("Unexpected resync snapshot %+v", snap)
	}
	none(t, a)
}

func TestSlowClientIsKicked(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]
	b.send = make(chan []byte, 1)

	hub.handle(a, testSegment(0))
	hub.handle(a, testSegment(1))

	if !b.kicked {
		t.Fatal("Client with a full buffer should be kicked")
	}
	// Kicked clients stay registered until their pump unregisters them.
	hub.handle(a, testSegment(2))
	if len(b.send) != 1 {
		t.Errorf("Kicked client should receive nothing more, has %d queued", len(b.send))
	}
	hub.disconnect(b)
	if _, ok := hub.clients["B"]; ok {
		t.Error("Kicked client should be removed on unregister")
	}
}

func TestJournalRecordsActivity(t *testing.T) {
	journal := &MockJournal{}
	hub := NewHub(journal, Options{})
	go hub.journal.run()
	clients := setupRoom(t, hub, "art", "A")
	a := clients[0]

	hub.handle(a, testSegment(0))
	hub.handle(a, protocol.StrokeEndEvent{})
	hub.handle(a, protocol.StrokeEndEvent{})
	hub.handle(a, protocol.UndoEvent{})
	hub.handle(a, protocol.RedoEvent{})
	hub.handle(a, protocol.ClearEvent{})
	hub.journal.stop()

	want := []string{
		"art:" + db.EventJoin + ":A",
		"art:" + db.EventStroke + ":A",
		"art:" + db.EventUndo + ":A",
		"art:" + db.EventRedo + ":A",
		"art:" + db.EventClear + ":A",
	}
	got := journal.Events()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestInspectThroughRunLoop(t *testing.T) {
	hub := NewHub(nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	rooms, clients, err := hub.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if rooms != 1 || clients != 0 {
		t.Errorf("Expected 1 room and 0 clients, got %d and %d", rooms, clients)
	}

	detail, err := hub.Room(context.Background(), "default")
	if err != nil || detail == nil {
		t.Fatalf("Expected default room detail, got %v, %v", detail, err)
	}
	missing, err := hub.Room(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil detail for absent room, got %v, %v", missing, err)
	}

	cancel()
	<-stopped

	if _, err := hub.Rooms(context.Background()); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Expected ErrHubClosed after shutdown, got %v", err)
	}
}

// Blocks every write until release is closed
type stalledJournal struct {
	MockJournal
	release chan struct{}
}

func (j *stalledJournal) Record(roomID, kind, userID string) error {
	<-j.release
	return j.MockJournal.Record(roomID, kind, userID)
}

func TestJournalDoesNotStallHub(t *testing.T) {
	journal := &stalledJournal{release: make(chan struct{})}
	hub := NewHub(journal, Options{})
	go hub.journal.run()
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	finished := make(chan struct{})
	go func() {
		hub.handle(a, testSegment(0))
		hub.handle(a, protocol.StrokeEndEvent{})
		hub.handle(a, protocol.UndoEvent{})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Hub blocked on a journal write")
	}

	frames := drain(t, b)
	if len(frames) != 3 || frames[2].Type != protocol.TypeUndo {
		t.Errorf("Expected segment, stroke-end and undo for B, got %+v", frames)
	}

	close(journal.release)
	hub.journal.stop()
	if got := journal.Events(); len(got) != 4 {
		t.Errorf("Expected 2 joins, a stroke and an undo queued behind the stall, got %v", got)
	}
}

func TestRejectRateLimited(t *testing.T) {
	hub := NewHub(nil, Options{})
	clients := setupRoom(t, hub, "", "A", "B")
	a, b := clients[0], clients[1]

	hub.reject(a, &protocol.RateLimitError{Type: protocol.TypeSegment})

	got := decode[protocol.ErrorPayload](t, only(t, a, protocol.TypeError))
	if got.Type != protocol.TypeSegment {
		t.Errorf("Expected error tagged segment, got %+v", got)
	}
	none(t, b)
}
