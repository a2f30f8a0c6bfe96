// Package lifecycle keeps at most one external video room per live stream room.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/video"
)

var (
	// ErrProvision means the video provider could not supply a room. Callers keep
	// the stream room running without a video bridge.
	ErrProvision = errors.New("video room provisioning failed")
	// ErrSuperseded means the stream's mapping was released or replaced while the
	// room was being provisioned.
	ErrSuperseded = errors.New("video room mapping superseded during provisioning")
)

const DefaultCapacity = 50

// Manager maps streamIDs to provider rooms. Provisioning is lazy and deduplicated
// per streamID; a stream whose mapping was released never adopts a live provider
// room again and always gets a freshly named one.
type Manager struct {
	client   video.Client
	capacity int
	now      func() time.Time

	sf singleflight.Group

	mu         sync.Mutex
	rooms      map[string]video.Room // streamID -> room
	bySID      map[string]string     // room SID -> streamID
	generation map[string]uint64
	released   map[string]struct{}
	lastSuffix int64
}

func NewManager(client video.Client, capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		client:     client,
		capacity:   capacity,
		now:        time.Now,
		rooms:      make(map[string]video.Room),
		bySID:      make(map[string]string),
		generation: make(map[string]uint64),
		released:   make(map[string]struct{}),
	}
}

// Lookup returns the room currently mapped to streamID
func (m *Manager) Lookup(streamID string) (video.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[streamID]
	return r, ok
}

// EnsureRoom returns the mapped room, provisioning one if none is recorded.
// Concurrent callers for the same streamID share a single provider call.
func (m *Manager) EnsureRoom(ctx context.Context, streamID string) (video.Room, error) {
	if r, ok := m.Lookup(streamID); ok {
		return r, nil
	}

	v, err, _ := m.sf.Do(streamID, func() (interface{}, error) {
		m.mu.Lock()
		if r, ok := m.rooms[streamID]; ok {
			m.mu.Unlock()
			return r, nil
		}
		gen := m.generation[streamID]
		_, wasReleased := m.released[streamID]
		m.mu.Unlock()

		room, err := m.provision(ctx, streamID, !wasReleased)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.generation[streamID] != gen {
			if current, ok := m.rooms[streamID]; ok {
				return current, nil
			}
			return nil, ErrSuperseded
		}
		m.recordLocked(streamID, room)
		return room, nil
	})
	if err != nil {
		return video.Room{}, err
	}
	return v.(video.Room), nil
}

// Provision unconditionally creates a new provider room for streamID and replaces
// any previous mapping.
func (m *Manager) Provision(ctx context.Context, streamID string) (video.Room, error) {
	m.mu.Lock()
	m.generation[streamID]++
	m.mu.Unlock()

	room, err := m.provision(ctx, streamID, false)
	if err != nil {
		return video.Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.rooms[streamID]; ok {
		delete(m.bySID, prev.SID)
	}
	m.recordLocked(streamID, room)
	return room, nil
}

// Release forgets the mapping for streamID. The provider room is left to expire.
func (m *Manager) Release(streamID string) (video.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[streamID]
	m.forgetLocked(streamID)
	return room, ok
}

// ForgetSID drops the mapping that points at the given provider room, used when
// the provider reports the room has ended.
func (m *Manager) ForgetSID(sid string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streamID, ok := m.bySID[sid]
	if !ok {
		return "", false
	}
	m.forgetLocked(streamID)
	return streamID, true
}

func (m *Manager) provision(ctx context.Context, streamID string, adopt bool) (video.Room, error) {
	l := logger.Ctx(ctx)

	room, err := m.client.CreateRoom(ctx, streamID, m.capacity)
	if err == nil {
		l.Info().Str(logger.FieldStreamID, streamID).Str("room_sid", room.SID).Msg("video room created")
		return *room, nil
	}
	if !errors.Is(err, video.ErrRoomExists) {
		return video.Room{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	existing, err := m.client.FetchRoom(ctx, streamID)
	switch {
	case err == nil && adopt && !existing.Status.Terminal():
		l.Info().Str(logger.FieldStreamID, streamID).Str("room_sid", existing.SID).Msg("reusing live video room")
		return *existing, nil
	case err != nil && !errors.Is(err, video.ErrRoomNotFound):
		return video.Room{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	name := m.derivedName(streamID)
	room, err = m.client.CreateRoom(ctx, name, m.capacity)
	if err != nil {
		return video.Room{}, fmt.Errorf("%w: %w", ErrProvision, err)
	}
	l.Info().Str(logger.FieldStreamID, streamID).Str("room_sid", room.SID).Str("room_name", name).Msg("video room created under derived name")
	return *room, nil
}

// derivedName appends a strictly increasing millisecond stamp to the stream name
func (m *Manager) derivedName(streamID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	suffix := m.now().UnixMilli()
	if suffix <= m.lastSuffix {
		suffix = m.lastSuffix + 1
	}
	m.lastSuffix = suffix
	return fmt.Sprintf("%s_%d", streamID, suffix)
}

func (m *Manager) recordLocked(streamID string, room video.Room) {
	m.rooms[streamID] = room
	m.bySID[room.SID] = streamID
}

func (m *Manager) forgetLocked(streamID string) {
	if room, ok := m.rooms[streamID]; ok {
		delete(m.bySID, room.SID)
		delete(m.rooms, streamID)
	}
	m.generation[streamID]++
	m.released[streamID] = struct{}{}
}
