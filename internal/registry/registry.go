// Package registry tracks which live connection belongs to which stream room.
package registry

import (
	"sync"
	"time"

	"github.com/mossy-p/stream-rooms/internal/models"
)

// Registry is the in-memory source of truth for room membership. A room exists
// only while it has at least one participant.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	byConn map[string]map[string]struct{} // connectionID -> streamIDs
	now    func() time.Time
}

type room struct {
	participants map[string]*models.Participant // connectionID -> participant
	order        []string                       // connectionIDs in join order
}

func New() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		byConn: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Join registers the connection under streamID. Re-joining the same room with the
// same connection keeps the original entry, including its role.
func (r *Registry) Join(connectionID, streamID, userID string, role models.Role) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		rm = &room{participants: make(map[string]*models.Participant)}
		r.rooms[streamID] = rm
	}

	if p, exists := rm.participants[connectionID]; exists {
		return *p, false
	}

	p := &models.Participant{
		ConnectionID: connectionID,
		StreamID:     streamID,
		UserID:       userID,
		Role:         models.ParseRole(role),
		JoinedAt:     r.now(),
	}
	rm.participants[connectionID] = p
	rm.order = append(rm.order, connectionID)

	streams, ok := r.byConn[connectionID]
	if !ok {
		streams = make(map[string]struct{})
		r.byConn[connectionID] = streams
	}
	streams[streamID] = struct{}{}

	return *p, true
}

// Leave removes the connection from streamID. It reports whether anything was removed.
func (r *Registry) Leave(connectionID, streamID string) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(connectionID, streamID)
}

// DropConnection removes the connection from every room it was in and returns the
// removed entries, one per affected room.
func (r *Registry) DropConnection(connectionID string) []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams := r.byConn[connectionID]
	dropped := make([]models.Participant, 0, len(streams))
	for streamID := range streams {
		if p, ok := r.removeLocked(connectionID, streamID); ok {
			dropped = append(dropped, p)
		}
	}
	delete(r.byConn, connectionID)
	return dropped
}

// RemoveRoom deletes the room and all of its participants, returning them in join order.
func (r *Registry) RemoveRoom(streamID string) []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		return nil
	}

	removed := make([]models.Participant, 0, len(rm.order))
	for _, connID := range rm.order {
		removed = append(removed, *rm.participants[connID])
		if streams, ok := r.byConn[connID]; ok {
			delete(streams, streamID)
			if len(streams) == 0 {
				delete(r.byConn, connID)
			}
		}
	}
	delete(r.rooms, streamID)
	return removed
}

// Participants returns a snapshot of the room's members in join order
func (r *Registry) Participants(streamID string) []models.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		return nil
	}
	out := make([]models.Participant, 0, len(rm.order))
	for _, connID := range rm.order {
		out = append(out, *rm.participants[connID])
	}
	return out
}

// ConnectionIDs returns the connection handles currently registered in the room
func (r *Registry) ConnectionIDs(streamID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		return nil
	}
	return append([]string(nil), rm.order...)
}

// Count returns the number of participants, zero when the room is absent
func (r *Registry) Count(streamID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[streamID]; ok {
		return len(rm.order)
	}
	return 0
}

// Exists reports whether the room currently has any participant
func (r *Registry) Exists(streamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[streamID]
	return ok
}

// Member reports whether the connection is registered in the room
func (r *Registry) Member(connectionID, streamID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, ok := r.rooms[streamID]; ok {
		_, member := rm.participants[connectionID]
		return member
	}
	return false
}

// SetStatus updates the status of the first participant (in join order) whose
// userID matches. It reports whether a participant was found.
func (r *Registry) SetStatus(streamID, userID, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		return false
	}
	for _, connID := range rm.order {
		if p := rm.participants[connID]; p.UserID == userID {
			p.Status = status
			return true
		}
	}
	return false
}

// SetRole changes the role of an existing membership. It reports whether the
// connection was registered in the room.
func (r *Registry) SetRole(connectionID, streamID string, role models.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[streamID]
	if !ok {
		return false
	}
	p, ok := rm.participants[connectionID]
	if !ok {
		return false
	}
	p.Role = models.ParseRole(role)
	return true
}

// StreamIDs lists the rooms that currently exist
func (r *Registry) StreamIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

func (r *Registry) removeLocked(connectionID, streamID string) (models.Participant, bool) {
	rm, ok := r.rooms[streamID]
	if !ok {
		return models.Participant{}, false
	}
	p, ok := rm.participants[connectionID]
	if !ok {
		return models.Participant{}, false
	}

	delete(rm.participants, connectionID)
	for i, id := range rm.order {
		if id == connectionID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
	if len(rm.order) == 0 {
		delete(r.rooms, streamID)
	}

	if streams, ok := r.byConn[connectionID]; ok {
		delete(streams, streamID)
		if len(streams) == 0 {
			delete(r.byConn, connectionID)
		}
	}
	return *p, true
}
