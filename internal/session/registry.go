package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sketchroom/internal/protocol"
)

// ErrRoomNotFound reports a join against a room id with no live session.
// Unlike a transport failure this is terminal: the client has to create a
// new room, retrying would reject the same way every time.
var ErrRoomNotFound = errors.New("room not found")

// Registry tracks every live room by id.
type Registry struct {
	log   *zap.Logger
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log, rooms: make(map[string]*Room)}
}

// CreateRoom allocates a fresh room with an empty one-page document and
// returns it. Also serves the "open in new tab" room allocator, which hands
// out ids before anyone has joined.
func (reg *Registry) CreateRoom() *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.createLocked()
}

// Get returns the live room with the given id.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[id]
	return room, ok
}

// Join completes the join handshake: it resolves (or creates) the room and
// assigns the participant identity together with the document snapshot. An
// empty roomID requests a new room.
func (reg *Registry) Join(username, roomID string) (*Room, protocol.Participant, <-chan protocol.Message, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var room *Room
	if roomID == "" {
		room = reg.createLocked()
	} else {
		var ok bool
		if room, ok = reg.rooms[roomID]; !ok {
			return nil, protocol.Participant{}, nil, ErrRoomNotFound
		}
	}

	// The member is added while the registry lock is held, so a concurrent
	// Leave cannot collect the room between the lookup and the join.
	info, out := room.Join(username)
	return room, info, out, nil
}

// Leave removes the participant from the room and collects the room once
// nobody is left in it.
func (reg *Registry) Leave(room *Room, userID string) {
	if room.Leave(userID) > 0 {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	// Re-check under the registry lock: a joiner may have slipped in since
	// the count was taken.
	if room.size() > 0 {
		return
	}
	if current, ok := reg.rooms[room.ID]; ok && current == room {
		delete(reg.rooms, room.ID)
		reg.log.Info("room collected", zap.String("room", room.ID))
	}
}

func (reg *Registry) createLocked() *Room {
	room := newRoom(uuid.NewString(), reg.log)
	reg.rooms[room.ID] = room
	reg.log.Info("room created", zap.String("room", room.ID))
	return room
}
