package models

import (
	"encoding/json"
	"time"
)

// EventType names a real-time event exchanged over the stream socket
type EventType string

// Inbound events (client -> server)
const (
	EventJoinStream        EventType = "join_stream"
	EventLeaveStream       EventType = "leave_stream"
	EventSendMessage       EventType = "send_message"
	EventStreamStatus      EventType = "stream_status"
	EventCreateVideoRoom   EventType = "create_twilio_room"
	EventParticipantStatus EventType = "participant_status"
)

// Outbound events (server -> client)
const (
	EventViewerCount             EventType = "viewer_count"
	EventRoomInfo                EventType = "room_info"
	EventNewMessage              EventType = "new_message"
	EventVideoRoomCreated        EventType = "twilio_room_created"
	EventParticipantStatusUpdate EventType = "participant_status_update"
	EventBroadcasterDisconnected EventType = "broadcaster_disconnected"
	EventError                   EventType = "error"
)

// DefaultMessageType is used when a chat message arrives without a type
const DefaultMessageType = "text"

// Envelope is the frame format in both directions
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEnvelope is the frame written to clients
type OutboundEnvelope struct {
	Event EventType   `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// JoinStreamRequest is the payload of join_stream
type JoinStreamRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Role     Role   `json:"role,omitempty"`
}

// LeaveStreamRequest is the payload of leave_stream
type LeaveStreamRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
}

// SendMessageRequest is the payload of send_message
type SendMessageRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Content  string `json:"content" validate:"required"`
	Type     string `json:"type,omitempty"`
}

// StreamStatusRequest is the payload of stream_status
type StreamStatusRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	Status   string `json:"status" validate:"required"`
}

// CreateVideoRoomRequest is the payload of create_twilio_room
type CreateVideoRoomRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
}

// ParticipantStatusRequest is the payload of participant_status
type ParticipantStatusRequest struct {
	StreamID string `json:"streamId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Status   string `json:"status" validate:"required"`
}

// ViewerCount is emitted to the room whenever membership changes
type ViewerCount struct {
	Count int `json:"count"`
}

// RoomInfo tells a joining connection which video room bridges the stream.
// ExternalRoomID is empty when the video bridge is unavailable.
type RoomInfo struct {
	ExternalRoomID string `json:"externalRoomId"`
	StreamID       string `json:"streamId"`
	VideoAvailable bool   `json:"videoAvailable"`
}

// VideoRoomCreated answers create_twilio_room
type VideoRoomCreated struct {
	ExternalRoomID string `json:"externalRoomId"`
	StreamID       string `json:"streamId"`
	RoomName       string `json:"roomName"`
}

// ChatMessage is a chat line as persisted and as fanned out (new_message)
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	StreamID  string    `json:"streamId" db:"stream_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Content   string    `json:"content" db:"content"`
	Type      string    `json:"type" db:"type"`
	Filtered  bool      `json:"-" db:"filtered"`
	Timestamp time.Time `json:"timestamp" db:"sent_at"`
}

// StreamStatus is fanned out verbatim for stream_status
type StreamStatus struct {
	StreamID string `json:"streamId"`
	Status   string `json:"status"`
}

// ParticipantStatusUpdate is fanned out for participant_status
type ParticipantStatusUpdate struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcasterDisconnected is sent to remaining members on teardown
type BroadcasterDisconnected struct {
	StreamID string `json:"streamId"`
}

// ErrorMessage is sent to the originating connection only
type ErrorMessage struct {
	Message string `json:"message"`
}
