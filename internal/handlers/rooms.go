package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/stream-rooms/internal/coordinator"
	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/models"
	"github.com/mossy-p/stream-rooms/internal/store"
)

// RoomInspector exposes read-only views of live stream rooms
type RoomInspector interface {
	Rooms() []models.RoomSummary
	Snapshot(ctx context.Context, streamID string) (models.RoomSnapshot, error)
}

// RoomsHandler serves the inspection API under /api/streams
type RoomsHandler struct {
	rooms        RoomInspector
	history      store.MessageHistory
	historyLimit int64
}

// NewRoomsHandler builds the handler. history may be nil when the message store
// cannot replay chat.
func NewRoomsHandler(rooms RoomInspector, history store.MessageHistory, historyLimit int64) *RoomsHandler {
	return &RoomsHandler{rooms: rooms, history: history, historyLimit: historyLimit}
}

// ListStreams returns every live stream room
func (h *RoomsHandler) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": h.rooms.Rooms()})
}

// GetStreamRoom returns the members and video room of one stream
func (h *RoomsHandler) GetStreamRoom(c *gin.Context) {
	streamID := c.Param("streamId")

	snap, err := h.rooms.Snapshot(c.Request.Context(), streamID)
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Stream room not found"})
			return
		}
		l := logger.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logger.FieldStreamID, streamID).Msg("failed to load stream room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stream room"})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// GetStreamMessages replays the most recent chat of a stream, oldest first
func (h *RoomsHandler) GetStreamMessages(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Message history not available"})
		return
	}

	streamID := c.Param("streamId")
	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		if h.historyLimit <= 0 || n < h.historyLimit {
			limit = n
		}
	}

	msgs, err := h.history.RecentMessages(c.Request.Context(), streamID, limit)
	if err != nil {
		l := logger.Ctx(c.Request.Context())
		l.Error().Err(err).Str(logger.FieldStreamID, streamID).Msg("failed to load messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}

	c.JSON(http.StatusOK, gin.H{"streamId": streamID, "messages": msgs})
}
