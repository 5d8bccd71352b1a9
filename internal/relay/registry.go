package relay

import (
	"slices"

	"github.com/Tyrowin/roomrelay/internal/chat"
)

// Room is a named broadcast domain. Rooms are created on first use and never
// removed; only their membership empties.
type Room struct {
	ID      string
	members map[string]struct{}
	history *History
}

// RoomInfo is a point-in-time summary of a room.
type RoomInfo struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
	History int    `json:"history"`
}

// Departure describes a session removed from the registry.
type Departure struct {
	UserID   string
	Username string
	RoomID   string
	Session  *Session
}

// Registry maps user ids to sessions and room ids to rooms. It is not safe
// for concurrent use; the Hub's run loop is its only owner.
type Registry struct {
	clients     map[string]*Session
	rooms       map[string]*Room
	historySize int
}

// NewRegistry returns an empty registry whose rooms keep historySize messages.
func NewRegistry(historySize int) *Registry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Registry{
		clients:     make(map[string]*Session),
		rooms:       make(map[string]*Room),
		historySize: historySize,
	}
}

func (r *Registry) room(id string) *Room {
	room, ok := r.rooms[id]
	if !ok {
		room = &Room{
			ID:      id,
			members: make(map[string]struct{}),
			history: newHistory(r.historySize),
		}
		r.rooms[id] = room
	}
	return room
}

// Register binds a new session for userID to roomID, creating the room if
// needed. A user id can hold only one session at a time.
func (r *Registry) Register(userID, username, roomID string) (*Session, error) {
	if _, exists := r.clients[userID]; exists {
		return nil, ErrDuplicateUser
	}

	room := r.room(roomID)
	s := newSession(userID, username, roomID)
	room.members[userID] = struct{}{}
	r.clients[userID] = s
	return s, nil
}

// Unregister removes userID from its room and the client table. The second
// call for the same id reports false.
func (r *Registry) Unregister(userID string) (Departure, bool) {
	s, ok := r.clients[userID]
	if !ok {
		return Departure{}, false
	}

	delete(r.clients, userID)
	if room, ok := r.rooms[s.roomID]; ok {
		delete(room.members, userID)
	}

	return Departure{
		UserID:   userID,
		Username: s.username,
		RoomID:   s.roomID,
		Session:  s,
	}, true
}

// Session looks up the live session for userID.
func (r *Registry) Session(userID string) (*Session, bool) {
	s, ok := r.clients[userID]
	return s, ok
}

// Members returns a sorted copy of the room's member ids. The boolean is
// false for rooms that were never created.
func (r *Registry) Members(roomID string) ([]string, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}

	ids := make([]string, 0, len(room.members))
	for id := range room.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, true
}

// History returns a copy of the room's stored messages, oldest first.
func (r *Registry) History(roomID string) []chat.Message {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return room.history.Snapshot()
}

// AppendHistory stores msg in the room's ring, creating the room if needed.
func (r *Registry) AppendHistory(roomID string, msg chat.Message) {
	r.room(roomID).history.Append(msg)
}

// Rooms summarises every known room, sorted by id.
func (r *Registry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, RoomInfo{
			ID:      room.ID,
			Members: len(room.members),
			History: room.history.Len(),
		})
	}
	slices.SortFunc(out, func(a, b RoomInfo) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.clients)
}
