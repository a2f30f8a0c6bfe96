package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/stream-rooms/config"
	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/middleware"
	"github.com/mossy-p/stream-rooms/internal/store"
)

type RouterConfig struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	// JWTSecret enables token checks on the socket and the API when set
	JWTSecret      string
	WebSocket      config.WebSocketConfig
	HistoryLimit   int64
	VideoAuthToken string
	VideoCallback  string
}

// Coordinator is everything the HTTP surface needs from the room coordinator
type Coordinator interface {
	StreamCoordinator
	RoomInspector
	VideoRoomEvents
}

// NewRouter wires the HTTP and WebSocket routes. history may be nil.
func NewRouter(cfg RouterConfig, coord Coordinator, history store.MessageHistory) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(cfg.Logger))
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := func(c *gin.Context) { c.Next() }
	if cfg.JWTSecret != "" {
		auth = middleware.JWTAuth(cfg.JWTSecret)
	}

	rooms := NewRoomsHandler(coord, history, cfg.HistoryLimit)
	api := router.Group("/api", auth)
	{
		api.GET("/streams", rooms.ListStreams)
		api.GET("/streams/:streamId/room", rooms.GetStreamRoom)
		api.GET("/streams/:streamId/messages", rooms.GetStreamMessages)
	}

	stream := NewStreamHandler(coord, cfg.WebSocket)
	router.GET("/ws/stream", auth, stream.HandleStream)

	status := NewVideoStatusHandler(coord, cfg.VideoAuthToken, cfg.VideoCallback)
	router.POST("/video/status", status.HandleStatus)

	return router
}
