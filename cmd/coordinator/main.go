package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/stream-rooms/config"
	"github.com/mossy-p/stream-rooms/internal/broadcast"
	"github.com/mossy-p/stream-rooms/internal/coordinator"
	"github.com/mossy-p/stream-rooms/internal/handlers"
	"github.com/mossy-p/stream-rooms/internal/lifecycle"
	"github.com/mossy-p/stream-rooms/internal/logger"
	"github.com/mossy-p/stream-rooms/internal/redis"
	"github.com/mossy-p/stream-rooms/internal/registry"
	"github.com/mossy-p/stream-rooms/internal/store"
	"github.com/mossy-p/stream-rooms/internal/video"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logger.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "stream-rooms",
	})
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Str("address", cfg.Redis.Address).Msg("redis connection established")

	redisStore := store.NewRedisStore(redisClient, cfg.Redis.KeyTTL, cfg.Chat.HistoryLimit)

	var (
		messages store.MessageStore   = redisStore
		history  store.MessageHistory = redisStore
	)
	if cfg.Persistence.Messages == config.MessagesPostgres {
		db, err := store.ConnectPostgres(ctx, cfg.Persistence.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		pg := store.NewPostgresMessageStore(db)
		defer pg.Close()
		messages, history = pg, pg
		log.Info().Msg("chat messages persisted to postgres")
	}

	var videoClient video.Client
	switch cfg.Video.Provider {
	case config.VideoProviderTwilio:
		videoClient = video.NewTwilioClient(video.TwilioOptions{
			AccountSID:        cfg.Video.AccountSID,
			AuthToken:         cfg.Video.AuthToken,
			RoomType:          cfg.Video.RoomType,
			StatusCallbackURL: cfg.Video.StatusCallbackURL,
		})
	default:
		log.Warn().Msg("no video provider credentials, using in-memory video rooms")
		videoClient = video.NewMemoryClient()
	}

	coord, err := coordinator.New(
		registry.New(),
		lifecycle.NewManager(videoClient, cfg.Video.MaxParticipants),
		broadcast.New(),
		store.NewGateway(redisStore, messages),
		coordinator.Options{
			StreamIDPattern:  cfg.Coordinator.StreamIDPattern,
			MaxMessageLength: cfg.Chat.MaxMessageLength,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build coordinator")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Logger:         log,
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
		WebSocket:      cfg.WebSocket,
		HistoryLimit:   cfg.Chat.HistoryLimit,
		VideoAuthToken: videoAuthToken(cfg),
		VideoCallback:  cfg.Video.StatusCallbackURL,
	}, coord, history)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("video_provider", cfg.Video.Provider).Msg("stream room coordinator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("stopped")
}

func videoAuthToken(cfg *config.Config) string {
	if cfg.Video.Provider != config.VideoProviderTwilio {
		return ""
	}
	return cfg.Video.AuthToken
}
