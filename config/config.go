package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Redis          RedisConfig
	WebSocket      WebSocketConfig
	Video          VideoConfig
	Persistence    PersistenceConfig
	Chat           ChatConfig
	Coordinator    CoordinatorConfig
	Log            LogConfig
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	KeyTTL   time.Duration
}

type WebSocketConfig struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

type VideoConfig struct {
	Provider          string
	AccountSID        string
	AuthToken         string
	RoomType          string
	MaxParticipants   int
	StatusCallbackURL string
}

type PersistenceConfig struct {
	Messages    string
	PostgresDSN string
}

type ChatConfig struct {
	MaxMessageLength int
	HistoryLimit     int64
}

type CoordinatorConfig struct {
	StreamIDPattern string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

const (
	VideoProviderTwilio = "twilio"
	VideoProviderMemory = "memory"

	MessagesRedis    = "redis"
	MessagesPostgres = "postgres"
)

// Load reads configuration from an optional config.yaml and the environment
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	setDefaults(v)
	bindEnv(v)

	// Parse allowed origins (comma-separated)
	origins := splitList(v.GetString("server.allowed_origins"))

	cfg := &Config{
		Port:           v.GetString("server.port"),
		Environment:    v.GetString("server.environment"),
		AllowedOrigins: origins,
		JWTSecret:      v.GetString("auth.jwt_secret"),
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			KeyTTL:   v.GetDuration("redis.key_ttl"),
		},
		WebSocket: WebSocketConfig{
			PingInterval:   v.GetDuration("websocket.ping_interval"),
			PongWait:       v.GetDuration("websocket.pong_wait"),
			WriteWait:      v.GetDuration("websocket.write_wait"),
			MaxMessageSize: v.GetInt64("websocket.max_message_size"),
			SendBuffer:     v.GetInt("websocket.send_buffer"),
		},
		Video: VideoConfig{
			Provider:          v.GetString("video.provider"),
			AccountSID:        v.GetString("video.twilio.account_sid"),
			AuthToken:         v.GetString("video.twilio.auth_token"),
			RoomType:          v.GetString("video.room_type"),
			MaxParticipants:   v.GetInt("video.max_participants"),
			StatusCallbackURL: v.GetString("video.status_callback_url"),
		},
		Persistence: PersistenceConfig{
			Messages:    v.GetString("persistence.messages"),
			PostgresDSN: v.GetString("postgres.dsn"),
		},
		Chat: ChatConfig{
			MaxMessageLength: v.GetInt("chat.max_message_length"),
			HistoryLimit:     v.GetInt64("chat.history_limit"),
		},
		Coordinator: CoordinatorConfig{
			StreamIDPattern: v.GetString("coordinator.stream_id_pattern"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	if cfg.Video.Provider == "" {
		cfg.Video.Provider = VideoProviderMemory
		if cfg.Video.AccountSID != "" && cfg.Video.AuthToken != "" {
			cfg.Video.Provider = VideoProviderTwilio
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_ttl", "24h")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 8192)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("video.provider", "")
	v.SetDefault("video.room_type", "group")
	v.SetDefault("video.max_participants", 50)
	v.SetDefault("video.status_callback_url", "")
	v.SetDefault("persistence.messages", MessagesRedis)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("chat.max_message_length", 1000)
	v.SetDefault("chat.history_limit", 500)
	v.SetDefault("coordinator.stream_id_pattern", `^[A-Za-z0-9_-]{1,64}$`)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENVIRONMENT")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("video.provider", "VIDEO_PROVIDER")
	v.BindEnv("video.twilio.account_sid", "TWILIO_ACCOUNT_SID")
	v.BindEnv("video.twilio.auth_token", "TWILIO_AUTH_TOKEN")
	v.BindEnv("video.status_callback_url", "VIDEO_STATUS_CALLBACK_URL")
	v.BindEnv("persistence.messages", "PERSISTENCE_MESSAGES")
	v.BindEnv("postgres.dsn", "POSTGRES_DSN")
	v.BindEnv("coordinator.stream_id_pattern", "STREAM_ID_PATTERN")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")
}

func (c *Config) validate() error {
	switch c.Video.Provider {
	case VideoProviderMemory:
	case VideoProviderTwilio:
		if c.Video.AccountSID == "" || c.Video.AuthToken == "" {
			return fmt.Errorf("twilio provider requires TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
		}
	default:
		return fmt.Errorf("unknown video provider %q", c.Video.Provider)
	}

	switch c.Persistence.Messages {
	case MessagesRedis:
	case MessagesPostgres:
		if c.Persistence.PostgresDSN == "" {
			return fmt.Errorf("postgres message store requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown message store %q", c.Persistence.Messages)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
