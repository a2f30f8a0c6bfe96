package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/models"
)

func (c *Coordinator) decode(data json.RawMessage, req interface{}) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, req); err != nil {
		return validationError("invalid payload")
	}
	return c.validate.required(req)
}

func (c *Coordinator) handleJoin(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req models.JoinStreamRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}

	l := logger.Ctx(ctx).With().Str(logger.FieldStreamID, req.StreamID).Str(logger.FieldUserID, req.UserID).Logger()

	p, joined := c.registry.Join(connectionID, req.StreamID, req.UserID, req.Role)
	if joined {
		if err := c.store.IncrementViewer(ctx, req.StreamID, req.UserID); err != nil {
			l.Warn().Err(err).Msg("failed to persist viewer")
		}
	}

	info := models.RoomInfo{StreamID: req.StreamID}
	room, err := c.rooms.EnsureRoom(ctx, req.StreamID)
	if err != nil {
		l.Warn().Err(err).Msg("video bridge unavailable, continuing without it")
	} else {
		info.ExternalRoomID = room.SID
		info.VideoAvailable = true
	}

	// the room may have been torn down while the video room was provisioned
	if !c.registry.Member(connectionID, req.StreamID) {
		l.Info().Msg("room closed while joining")
		return nil
	}

	c.emitViewerCount(ctx, req.StreamID)
	c.emitTo(ctx, connectionID, models.EventRoomInfo, info)

	l.Info().Str("role", string(p.Role)).Bool("video", info.VideoAvailable).Msg("joined stream")
	return nil
}

func (c *Coordinator) handleLeave(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req models.LeaveStreamRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}

	p, removed := c.registry.Leave(connectionID, req.StreamID)
	if !removed {
		return nil
	}

	c.forgetViewer(ctx, p)
	c.emitViewerCount(ctx, req.StreamID)

	l := logger.Ctx(ctx)
	l.Info().Str(logger.FieldStreamID, req.StreamID).Str(logger.FieldUserID, p.UserID).Msg("left stream")
	return nil
}

func (c *Coordinator) handleSendMessage(ctx context.Context, data json.RawMessage) error {
	var req models.SendMessageRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}
	if err := c.validate.content(req.Content); err != nil {
		return err
	}

	msgType := req.Type
	if msgType == "" {
		msgType = models.DefaultMessageType
	}

	msg := &models.ChatMessage{
		ID:        c.newID(),
		StreamID:  req.StreamID,
		UserID:    req.UserID,
		Content:   req.Content,
		Type:      msgType,
		Timestamp: c.now().UTC(),
	}

	if err := c.store.AppendMessage(ctx, msg); err != nil {
		l := logger.Ctx(ctx)
		l.Warn().Err(err).Str(logger.FieldStreamID, req.StreamID).Str("message_id", msg.ID).Msg("failed to persist message, delivering anyway")
	}

	c.emit(ctx, c.registry.ConnectionIDs(req.StreamID), models.EventNewMessage, msg)
	return nil
}

func (c *Coordinator) handleStreamStatus(ctx context.Context, data json.RawMessage) error {
	var req models.StreamStatusRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}

	c.emit(ctx, c.registry.ConnectionIDs(req.StreamID), models.EventStreamStatus, models.StreamStatus{
		StreamID: req.StreamID,
		Status:   req.Status,
	})
	return nil
}

func (c *Coordinator) handleCreateVideoRoom(ctx context.Context, connectionID string, data json.RawMessage) error {
	var req models.CreateVideoRoomRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}

	room, err := c.rooms.Provision(ctx, req.StreamID)
	if err != nil {
		return internalError("failed to create video room", fmt.Errorf("provision %s: %w", req.StreamID, err))
	}

	_, joined := c.registry.Join(connectionID, req.StreamID, req.UserID, models.RoleBroadcaster)
	if !joined {
		c.registry.SetRole(connectionID, req.StreamID, models.RoleBroadcaster)
	} else if err := c.store.IncrementViewer(ctx, req.StreamID, req.UserID); err != nil {
		l := logger.Ctx(ctx)
		l.Warn().Err(err).Str(logger.FieldStreamID, req.StreamID).Msg("failed to persist broadcaster")
	}

	c.emitTo(ctx, connectionID, models.EventVideoRoomCreated, models.VideoRoomCreated{
		ExternalRoomID: room.SID,
		StreamID:       req.StreamID,
		RoomName:       room.UniqueName,
	})
	if joined {
		c.emitViewerCount(ctx, req.StreamID)
	}

	l := logger.Ctx(ctx)
	l.Info().Str(logger.FieldStreamID, req.StreamID).Str(logger.FieldUserID, req.UserID).Str("room_sid", room.SID).Msg("broadcaster created video room")
	return nil
}

func (c *Coordinator) handleParticipantStatus(ctx context.Context, data json.RawMessage) error {
	var req models.ParticipantStatusRequest
	if err := c.decode(data, &req); err != nil {
		return err
	}
	if err := c.validate.streamID(req.StreamID); err != nil {
		return err
	}

	if !c.registry.SetStatus(req.StreamID, req.UserID, req.Status) {
		l := logger.Ctx(ctx)
		l.Debug().Str(logger.FieldStreamID, req.StreamID).Str(logger.FieldUserID, req.UserID).Msg("status for unknown participant")
	}

	c.emit(ctx, c.registry.ConnectionIDs(req.StreamID), models.EventParticipantStatusUpdate, models.ParticipantStatusUpdate{
		UserID:    req.UserID,
		Status:    req.Status,
		Timestamp: c.now().UTC(),
	})
	return nil
}
