// Package store persists viewer membership and chat messages for stream rooms.
// Every call is best-effort from the coordinator's point of view.
package store

import (
	"context"
	"errors"

	"github.com/mossy-p/stream-rooms/internal/models"
)

// ErrPersistence wraps every failure of the durable store
var ErrPersistence = errors.New("persistence failure")

// ViewerStore tracks the persisted viewer set of each stream
type ViewerStore interface {
	IncrementViewer(ctx context.Context, streamID, userID string) error
	DecrementViewer(ctx context.Context, streamID, userID string) error
	CurrentViewerCount(ctx context.Context, streamID string) (int, error)
	ClearViewers(ctx context.Context, streamID string) error
}

// MessageStore is the durable chat log
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
}

// Gateway is everything the coordinator persists
type Gateway interface {
	ViewerStore
	MessageStore
}

type gateway struct {
	ViewerStore
	MessageStore
}

// NewGateway combines a viewer store and a message store that may live in
// different backends.
func NewGateway(viewers ViewerStore, messages MessageStore) Gateway {
	return gateway{ViewerStore: viewers, MessageStore: messages}
}

// MessageHistory is implemented by message stores that can replay recent chat
type MessageHistory interface {
	RecentMessages(ctx context.Context, streamID string, limit int64) ([]models.ChatMessage, error)
}
