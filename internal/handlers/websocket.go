package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mossy-p/stream-rooms/config"
	"github.com/mossy-p/stream-rooms/internal/broadcast"
	"github.com/mossy-p/stream-rooms/internal/logger"
)

// StreamCoordinator receives every frame and lifecycle change of a socket
type StreamCoordinator interface {
	Connect(conn broadcast.Conn)
	Dispatch(ctx context.Context, connectionID string, frame []byte)
	Disconnect(ctx context.Context, connectionID string)
}

// StreamHandler upgrades /ws/stream requests and pumps frames to the coordinator
type StreamHandler struct {
	coordinator StreamCoordinator
	cfg         config.WebSocketConfig
	upgrader    websocket.Upgrader
}

func NewStreamHandler(coordinator StreamCoordinator, cfg config.WebSocketConfig) *StreamHandler {
	return &StreamHandler{
		coordinator: coordinator,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Client is one live socket. Frames queued with Send are written by writePump;
// inbound frames are dispatched one at a time by readPump.
type Client struct {
	id   string
	conn *websocket.Conn
	cfg  config.WebSocketConfig
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) ID() string { return c.id }

// Send queues a frame without blocking. It reports false when the client is
// gone or its buffer is full.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// HandleStream upgrades the request and serves the socket until it closes
func (h *StreamHandler) HandleStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := logger.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		conn: conn,
		cfg:  h.cfg,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	lctx := logger.Ctx(c.Request.Context()).With().Str(logger.FieldConnectionID, client.id)
	if userID := c.GetString(logger.FieldUserID); userID != "" {
		lctx = lctx.Str(logger.FieldUserID, userID)
	}
	client.log = lctx.Logger()

	// the socket outlives the HTTP handler; keep the request's values only
	ctx := logger.WithLogger(context.WithoutCancel(c.Request.Context()), client.log)

	h.coordinator.Connect(client)
	client.log.Info().Msg("stream socket connected")

	go client.writePump()
	go h.readPump(ctx, client)
}

func (h *StreamHandler) readPump(ctx context.Context, c *Client) {
	defer func() {
		c.close()
		h.coordinator.Disconnect(ctx, c.id)
		c.log.Info().Msg("stream socket disconnected")
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		h.coordinator.Dispatch(ctx, c.id, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
