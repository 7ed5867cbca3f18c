// Package room tracks which live connections belong to which chat room.
package room

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/johndosdos/roomchat/internal/model"
)

// Member is a live connection that can be handed room broadcasts. The
// registry only references members; their lifecycle belongs to the caller.
type Member interface {
	ConnID() uuid.UUID
	Deliver(msg model.Outbound) error
}

// Registry maps a room id to its current members. A connection is a member
// of at most one room at a time. Empty rooms are pruned.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[uuid.UUID]Member
	roomOf map[uuid.UUID]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[uuid.UUID]Member),
		roomOf: make(map[uuid.UUID]string),
	}
}

// Join adds m to roomID. Joining a room the member is already in is a no-op;
// joining a different room moves the member.
func (r *Registry) Join(roomID string, m Member) {
	id := m.ConnID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.roomOf[id]; ok {
		if current == roomID {
			return
		}
		r.removeLocked(current, id)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[uuid.UUID]Member)
		r.rooms[roomID] = members
	}
	members[id] = m
	r.roomOf[id] = roomID
}

// Leave removes connID from roomID. It is a no-op if the connection is not a
// member of that room.
func (r *Registry) Leave(roomID string, connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roomOf[connID] != roomID {
		return
	}
	r.removeLocked(roomID, connID)
}

func (r *Registry) removeLocked(roomID string, connID uuid.UUID) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	delete(r.roomOf, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// MembersOf returns a snapshot of the members of roomID.
func (r *Registry) MembersOf(roomID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}

// ConnIDs returns a snapshot of the connection ids in roomID.
func (r *Registry) ConnIDs(roomID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]uuid.UUID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Count returns the number of members in roomID.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomOf returns the room connID is in, if any.
func (r *Registry) RoomOf(connID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.roomOf[connID]
	return roomID, ok
}

// Rooms returns the ids of all non-empty rooms in sorted order.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
