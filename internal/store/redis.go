package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/stream-rooms/internal/models"
)

const (
	defaultKeyTTL       = 24 * time.Hour
	defaultHistoryLimit = 500
)

// RedisStore keeps viewer sets and a capped message log per stream
type RedisStore struct {
	client       redis.UniversalClient
	keyTTL       time.Duration
	historyLimit int64
}

func NewRedisStore(client redis.UniversalClient, keyTTL time.Duration, historyLimit int64) *RedisStore {
	if keyTTL <= 0 {
		keyTTL = defaultKeyTTL
	}
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &RedisStore{
		client:       client,
		keyTTL:       keyTTL,
		historyLimit: historyLimit,
	}
}

func viewersKey(streamID string) string {
	return "stream:" + streamID + ":viewers"
}

func messagesKey(streamID string) string {
	return "stream:" + streamID + ":messages"
}

func (s *RedisStore) IncrementViewer(ctx context.Context, streamID, userID string) error {
	key := viewersKey(streamID)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, s.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: add viewer %s to %s: %w", ErrPersistence, userID, streamID, err)
	}
	return nil
}

func (s *RedisStore) DecrementViewer(ctx context.Context, streamID, userID string) error {
	if err := s.client.SRem(ctx, viewersKey(streamID), userID).Err(); err != nil {
		return fmt.Errorf("%w: remove viewer %s from %s: %w", ErrPersistence, userID, streamID, err)
	}
	return nil
}

func (s *RedisStore) CurrentViewerCount(ctx context.Context, streamID string) (int, error) {
	n, err := s.client.SCard(ctx, viewersKey(streamID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count viewers of %s: %w", ErrPersistence, streamID, err)
	}
	return int(n), nil
}

func (s *RedisStore) ClearViewers(ctx context.Context, streamID string) error {
	if err := s.client.Del(ctx, viewersKey(streamID)).Err(); err != nil {
		return fmt.Errorf("%w: clear viewers of %s: %w", ErrPersistence, streamID, err)
	}
	return nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	data, err := json.Marshal(storedMessage{
		ChatMessage: *msg,
		Filtered:    msg.Filtered,
	})
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrPersistence, err)
	}

	key := messagesKey(msg.StreamID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.historyLimit, -1)
	pipe.Expire(ctx, key, s.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: append message to %s: %w", ErrPersistence, msg.StreamID, err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest messages, oldest first
func (s *RedisStore) RecentMessages(ctx context.Context, streamID string, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	raw, err := s.client.LRange(ctx, messagesKey(streamID), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: read messages of %s: %w", ErrPersistence, streamID, err)
	}

	out := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m storedMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("%w: decode message: %w", ErrPersistence, err)
		}
		m.ChatMessage.Filtered = m.Filtered
		out = append(out, m.ChatMessage)
	}
	return out, nil
}

// storedMessage keeps the moderation flag that is hidden on the wire
type storedMessage struct {
	models.ChatMessage
	Filtered bool `json:"filtered"`
}
