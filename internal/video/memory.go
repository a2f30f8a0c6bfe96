package video

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryClient is an in-process provider used in development when no Twilio
// credentials are configured. It mirrors Twilio's unique-name rules.
type MemoryClient struct {
	mu     sync.Mutex
	byName map[string]*Room
	bySID  map[string]*Room
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		byName: make(map[string]*Room),
		bySID:  make(map[string]*Room),
	}
}

func (c *MemoryClient) CreateRoom(ctx context.Context, name string, capacity int) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byName[name]; ok && !existing.Status.Terminal() {
		return nil, fmt.Errorf("create room %q: %w", name, ErrRoomExists)
	}

	room := &Room{
		SID:        "RM" + uuid.New().String(),
		UniqueName: name,
		Status:     StatusInProgress,
	}
	c.byName[name] = room
	c.bySID[room.SID] = room

	cp := *room
	return &cp, nil
}

func (c *MemoryClient) FetchRoom(ctx context.Context, name string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.byName[name]
	if !ok {
		room, ok = c.bySID[name]
	}
	if !ok {
		return nil, fmt.Errorf("fetch room %q: %w", name, ErrRoomNotFound)
	}
	cp := *room
	return &cp, nil
}

// Complete marks a room as ended, as the provider does once it empties out
func (c *MemoryClient) Complete(nameOrSID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.byName[nameOrSID]
	if !ok {
		room, ok = c.bySID[nameOrSID]
	}
	if !ok {
		return false
	}
	room.Status = StatusCompleted
	return true
}
