// Package coordinator sequences stream-room events across the connection registry,
// the video room lifecycle, persistence and fan-out.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/stream-rooms/internal/broadcast"
	"github.com/mossy-p/stream-rooms/internal/lifecycle"
	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/models"
	"github.com/mossy-p/stream-rooms/internal/registry"
	"github.com/mossy-p/stream-rooms/internal/store"
)

const (
	DefaultStreamIDPattern  = `^[A-Za-z0-9_-]{1,64}$`
	DefaultMaxMessageLength = 1000
)

var failureMessages = map[models.EventType]string{
	models.EventJoinStream:        "failed to join stream",
	models.EventLeaveStream:       "failed to leave stream",
	models.EventSendMessage:       "failed to send message",
	models.EventStreamStatus:      "failed to update stream status",
	models.EventCreateVideoRoom:   "failed to create video room",
	models.EventParticipantStatus: "failed to update participant status",
}

type Options struct {
	StreamIDPattern  string
	MaxMessageLength int
}

// Coordinator owns the registry and the stream -> video room mapping; nothing
// else mutates them. Handlers for one connection run in the order the frames
// arrived; handlers for different connections may interleave at every call into
// the video provider or the store, so state is re-read after those calls.
type Coordinator struct {
	registry    *registry.Registry
	rooms       *lifecycle.Manager
	broadcaster *broadcast.Broadcaster
	store       store.Gateway
	validate    *payloadValidator

	now   func() time.Time
	newID func() string
}

func New(reg *registry.Registry, rooms *lifecycle.Manager, b *broadcast.Broadcaster, gw store.Gateway, opts Options) (*Coordinator, error) {
	if opts.StreamIDPattern == "" {
		opts.StreamIDPattern = DefaultStreamIDPattern
	}
	if opts.MaxMessageLength == 0 {
		opts.MaxMessageLength = DefaultMaxMessageLength
	}

	v, err := newPayloadValidator(opts.StreamIDPattern, opts.MaxMessageLength)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		registry:    reg,
		rooms:       rooms,
		broadcaster: b,
		store:       gw,
		validate:    v,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}, nil
}

// Connect makes a new connection reachable for fan-out
func (c *Coordinator) Connect(conn broadcast.Conn) {
	c.broadcaster.Attach(conn)
}

// Dispatch decodes one inbound frame and runs its handler. Failures are reported
// to the originating connection only; a panic in a handler never escapes.
func (c *Coordinator) Dispatch(ctx context.Context, connectionID string, frame []byte) {
	var env models.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.emitError(ctx, connectionID, "invalid message format")
		return
	}

	l := logger.Ctx(ctx).With().Str(logger.FieldEvent, string(env.Event)).Logger()
	ctx = logger.WithLogger(ctx, l)

	defer func() {
		if r := recover(); r != nil {
			l.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
			c.emitError(ctx, connectionID, "internal server error")
		}
	}()

	var err error
	switch env.Event {
	case models.EventJoinStream:
		err = c.handleJoin(ctx, connectionID, env.Data)
	case models.EventLeaveStream:
		err = c.handleLeave(ctx, connectionID, env.Data)
	case models.EventSendMessage:
		err = c.handleSendMessage(ctx, env.Data)
	case models.EventStreamStatus:
		err = c.handleStreamStatus(ctx, env.Data)
	case models.EventCreateVideoRoom:
		err = c.handleCreateVideoRoom(ctx, connectionID, env.Data)
	case models.EventParticipantStatus:
		err = c.handleParticipantStatus(ctx, env.Data)
	default:
		err = validationError(fmt.Sprintf("unknown event: %s", env.Event))
	}

	if err == nil {
		return
	}
	if errors.Is(err, ErrValidation) {
		l.Debug().Err(err).Msg("rejected event")
	} else {
		l.Error().Err(err).Msg("event failed")
	}
	c.emitError(ctx, connectionID, publicMessage(err, failureMessages[env.Event]))
}

// Disconnect cleans up after a transport-level disconnect. Rooms the connection
// broadcast in are torn down; rooms it watched get an updated count. A panic while
// cleaning up one room does not stop the others from being processed.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	defer c.broadcaster.Detach(connectionID)

	for _, p := range c.registry.DropConnection(connectionID) {
		c.leaveOnDisconnect(ctx, p)
	}
}

func (c *Coordinator) leaveOnDisconnect(ctx context.Context, p models.Participant) {
	l := logger.Ctx(ctx).With().Str(logger.FieldStreamID, p.StreamID).Str(logger.FieldUserID, p.UserID).Logger()

	defer func() {
		if r := recover(); r != nil {
			l.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("disconnect cleanup panicked")
		}
	}()

	if p.IsBroadcaster() {
		c.teardown(ctx, p.StreamID)
		l.Info().Msg("broadcaster disconnected, room torn down")
		return
	}

	c.forgetViewer(ctx, p)
	c.emitViewerCount(ctx, p.StreamID)
	l.Debug().Msg("viewer disconnected")
}

// HandleVideoRoomEnded forgets the mapping for a provider room that has ended so
// the next join provisions a new one.
func (c *Coordinator) HandleVideoRoomEnded(ctx context.Context, roomSID string) bool {
	streamID, ok := c.rooms.ForgetSID(roomSID)
	if ok {
		l := logger.Ctx(ctx)
		l.Info().Str(logger.FieldStreamID, streamID).Str("room_sid", roomSID).Msg("video room ended by provider")
	}
	return ok
}

// Rooms lists the live stream rooms
func (c *Coordinator) Rooms() []models.RoomSummary {
	ids := c.registry.StreamIDs()
	sort.Strings(ids)

	out := make([]models.RoomSummary, 0, len(ids))
	for _, id := range ids {
		count := c.registry.Count(id)
		if count == 0 {
			continue
		}
		s := models.RoomSummary{StreamID: id, Participants: count}
		if room, ok := c.rooms.Lookup(id); ok {
			s.ExternalRoomID = room.SID
		}
		out = append(out, s)
	}
	return out
}

// Snapshot returns the current state of one room
func (c *Coordinator) Snapshot(ctx context.Context, streamID string) (models.RoomSnapshot, error) {
	participants := c.registry.Participants(streamID)
	if len(participants) == 0 {
		return models.RoomSnapshot{}, &Error{Kind: ErrNotFound, Message: "stream room not found"}
	}

	snap := models.RoomSnapshot{StreamID: streamID, Participants: participants}
	if room, ok := c.rooms.Lookup(streamID); ok {
		snap.ExternalRoomID = room.SID
	}

	if n, err := c.store.CurrentViewerCount(ctx, streamID); err != nil {
		l := logger.Ctx(ctx)
		l.Warn().Err(err).Str(logger.FieldStreamID, streamID).Msg("failed to read persisted viewer count")
	} else {
		snap.PersistedViewers = &n
	}
	return snap, nil
}

func (c *Coordinator) teardown(ctx context.Context, streamID string) {
	// release first: a join racing the teardown must never see the old mapping
	c.rooms.Release(streamID)
	remaining := c.registry.RemoveRoom(streamID)

	ids := make([]string, 0, len(remaining))
	for _, p := range remaining {
		ids = append(ids, p.ConnectionID)
	}
	c.emit(ctx, ids, models.EventBroadcasterDisconnected, models.BroadcasterDisconnected{StreamID: streamID})

	if err := c.store.ClearViewers(ctx, streamID); err != nil {
		l := logger.Ctx(ctx)
		l.Warn().Err(err).Str(logger.FieldStreamID, streamID).Msg("failed to clear persisted viewers")
	}
}

// forgetViewer drops the user from the persisted viewer set unless another of
// their connections is still in the room. The registry is checked again after the
// store call since the same user may have joined from a new connection meanwhile.
func (c *Coordinator) forgetViewer(ctx context.Context, p models.Participant) {
	if c.stillWatching(p) {
		return
	}

	l := logger.Ctx(ctx)
	if err := c.store.DecrementViewer(ctx, p.StreamID, p.UserID); err != nil {
		l.Warn().Err(err).Str(logger.FieldStreamID, p.StreamID).Str(logger.FieldUserID, p.UserID).Msg("failed to persist viewer removal")
		return
	}

	if c.stillWatching(p) {
		if err := c.store.IncrementViewer(ctx, p.StreamID, p.UserID); err != nil {
			l.Warn().Err(err).Str(logger.FieldStreamID, p.StreamID).Str(logger.FieldUserID, p.UserID).Msg("failed to restore persisted viewer")
		}
	}
}

func (c *Coordinator) stillWatching(p models.Participant) bool {
	for _, other := range c.registry.Participants(p.StreamID) {
		if other.UserID == p.UserID {
			return true
		}
	}
	return false
}

func (c *Coordinator) emitViewerCount(ctx context.Context, streamID string) {
	ids := c.registry.ConnectionIDs(streamID)
	c.emit(ctx, ids, models.EventViewerCount, models.ViewerCount{Count: len(ids)})
}

func (c *Coordinator) emit(ctx context.Context, ids []string, event models.EventType, payload interface{}) {
	if _, err := c.broadcaster.Emit(ids, event, payload); err != nil {
		l := logger.Ctx(ctx)
		l.Error().Err(err).Str(logger.FieldEvent, string(event)).Msg("failed to emit event")
	}
}

// emitTo sends an event to a single connection, typically the sender
func (c *Coordinator) emitTo(ctx context.Context, connectionID string, event models.EventType, payload interface{}) {
	if _, err := c.broadcaster.EmitTo(connectionID, event, payload); err != nil {
		l := logger.Ctx(ctx)
		l.Error().Err(err).Str(logger.FieldEvent, string(event)).Msg("failed to emit event")
	}
}

func (c *Coordinator) emitError(ctx context.Context, connectionID, message string) {
	c.emitTo(ctx, connectionID, models.EventError, models.ErrorMessage{Message: message})
}
