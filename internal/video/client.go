// Package video talks to the provider that hosts the audio/video rooms bridged to
// stream rooms.
package video

import (
	"context"
	"errors"
)

var (
	// ErrRoomExists is returned by CreateRoom when a non-terminal room already uses the name
	ErrRoomExists = errors.New("video room already exists")
	// ErrRoomNotFound is returned by FetchRoom for unknown names
	ErrRoomNotFound = errors.New("video room not found")
)

// Status is the provider-reported state of a room
type Status string

const (
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a room in this state can no longer be joined
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Room is a provisioned provider room
type Room struct {
	SID        string
	UniqueName string
	Status     Status
}

// Client is the narrow view of the video provider the coordinator needs
type Client interface {
	CreateRoom(ctx context.Context, name string, capacity int) (*Room, error)
	FetchRoom(ctx context.Context, name string) (*Room, error)
}
