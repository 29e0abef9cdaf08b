package room

import (
	"regexp"
	"sort"

	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
)

const DefaultID = "default"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id can name a room: 1 to 64 letters, digits,
// underscores or dashes.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// A drawing session: its members and the drawing they share
type Room struct {
	ID      string
	Drawing *drawing.State

	members []string
	index   map[string]struct{}
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		Drawing: drawing.NewState(),
		members: make([]string, 0),
		index:   make(map[string]struct{}),
	}
}

// Returns member ids in join order
func (r *Room) Members() []string {
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) Has(userID string) bool {
	_, ok := r.index[userID]
	return ok
}

func (r *Room) Size() int {
	return len(r.members)
}

func (r *Room) add(userID string) {
	if r.Has(userID) {
		return
	}
	r.index[userID] = struct{}{}
	r.members = append(r.members, userID)
}

func (r *Room) remove(userID string) {
	if !r.Has(userID) {
		return
	}
	delete(r.index, userID)
	for i, id := range r.members {
		if id == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
}

// Registry owns every room. The default room lives as long as the registry;
// any other room is created on first join and destroyed when its last member
// leaves. Like drawing.State it is owned by a single goroutine.
type Registry struct {
	defaultID string
	rooms     map[string]*Room
}

func NewRegistry(defaultID string) *Registry {
	if defaultID == "" {
		defaultID = DefaultID
	}
	r := &Registry{
		defaultID: defaultID,
		rooms:     make(map[string]*Room),
	}
	r.rooms[defaultID] = newRoom(defaultID)
	return r
}

func (r *Registry) DefaultID() string {
	return r.defaultID
}

func (r *Registry) resolve(roomID string) string {
	if roomID == "" {
		return r.defaultID
	}
	return roomID
}

// JoinRoom adds userID to the room, creating the room with a fresh drawing
// if needed. Joining twice is harmless.
func (r *Registry) JoinRoom(userID, roomID string) *Room {
	roomID = r.resolve(roomID)
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom(roomID)
		r.rooms[roomID] = rm
	}
	rm.add(userID)
	return rm
}

// LeaveRoom removes userID and reports whether the room was destroyed.
func (r *Registry) LeaveRoom(userID, roomID string) bool {
	roomID = r.resolve(roomID)
	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.remove(userID)
	if rm.Size() == 0 && roomID != r.defaultID {
		delete(r.rooms, roomID)
		return true
	}
	return false
}

func (r *Registry) GetRoomUsers(roomID string) []string {
	rm, ok := r.rooms[r.resolve(roomID)]
	if !ok {
		return []string{}
	}
	return rm.Members()
}

func (r *Registry) Get(roomID string) (*Room, bool) {
	rm, ok := r.rooms[r.resolve(roomID)]
	return rm, ok
}

// Returns all rooms sorted by id
func (r *Registry) Rooms() []*Room {
	out := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	return len(r.rooms)
}
