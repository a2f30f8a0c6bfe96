package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	twclient "github.com/twilio/twilio-go/client"

	"github.com/mossy-p/stream-rooms/internal/logger"
)

const (
	headerTwilioSignature = "X-Twilio-Signature"
	eventRoomEnded        = "room-ended"
)

// VideoRoomEvents is notified when the provider closes a room on its own
type VideoRoomEvents interface {
	HandleVideoRoomEnded(ctx context.Context, roomSID string) bool
}

// VideoStatusHandler receives Twilio room status callbacks
type VideoStatusHandler struct {
	events      VideoRoomEvents
	validator   *twclient.RequestValidator
	callbackURL string
}

// NewVideoStatusHandler builds the callback handler. Signatures are checked only
// when an auth token is configured.
func NewVideoStatusHandler(events VideoRoomEvents, authToken, callbackURL string) *VideoStatusHandler {
	h := &VideoStatusHandler{events: events, callbackURL: callbackURL}
	if authToken != "" {
		v := twclient.NewRequestValidator(authToken)
		h.validator = &v
	}
	return h
}

// HandleStatus forgets the stream's video room once the provider reports it ended
func (h *VideoStatusHandler) HandleStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid form body"})
		return
	}

	l := logger.Ctx(c.Request.Context())

	if h.validator != nil {
		params := make(map[string]string, len(c.Request.PostForm))
		for k := range c.Request.PostForm {
			params[k] = c.Request.PostForm.Get(k)
		}
		if !h.validator.Validate(h.callbackURL, params, c.GetHeader(headerTwilioSignature)) {
			l.Warn().Msg("rejected video status callback with bad signature")
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
			return
		}
	}

	event := c.PostForm("StatusCallbackEvent")
	roomSID := c.PostForm("RoomSid")
	if event != eventRoomEnded || roomSID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	if !h.events.HandleVideoRoomEnded(c.Request.Context(), roomSID) {
		l.Debug().Str("room_sid", roomSID).Msg("ended video room was not mapped")
	}
	c.Status(http.StatusNoContent)
}
