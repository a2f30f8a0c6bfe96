package models

import "time"

// Role is the part a connection plays in a stream room
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// ParseRole normalizes a declared role. Anything other than broadcaster is a viewer.
func ParseRole(s Role) Role {
	if s == RoleBroadcaster {
		return RoleBroadcaster
	}
	return RoleViewer
}

// Participant is one live connection's membership in one stream room
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	StreamID     string    `json:"streamId"`
	UserID       string    `json:"userId"`
	Role         Role      `json:"role"`
	Status       string    `json:"status,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// IsBroadcaster reports whether the participant's departure tears the room down
func (p Participant) IsBroadcaster() bool {
	return p.Role == RoleBroadcaster
}

// RoomSummary describes a live room for the inspection API
type RoomSummary struct {
	StreamID       string `json:"streamId"`
	ExternalRoomID string `json:"externalRoomId,omitempty"`
	Participants   int    `json:"participants"`
}

// RoomSnapshot is a point-in-time view of one stream room
type RoomSnapshot struct {
	StreamID         string        `json:"streamId"`
	ExternalRoomID   string        `json:"externalRoomId,omitempty"`
	Participants     []Participant `json:"participants"`
	PersistedViewers *int          `json:"persistedViewers,omitempty"`
}
