package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/mossy-p/stream-rooms/internal/models"
)

const messagesTable = "stream_messages"

// PostgresMessageStore keeps the chat log in Postgres
type PostgresMessageStore struct {
	db *sqlx.DB
}

// ConnectPostgres opens and pings a Postgres connection
func ConnectPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return db, nil
}

func NewPostgresMessageStore(db *sqlx.DB) *PostgresMessageStore {
	return &PostgresMessageStore{db: db}
}

func (s *PostgresMessageStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	query, args, err := sq.Insert(messagesTable).
		Columns("id", "stream_id", "user_id", "content", "type", "filtered", "sent_at").
		Values(msg.ID, msg.StreamID, msg.UserID, msg.Content, msg.Type, msg.Filtered, msg.Timestamp).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("%w: build insert: %w", ErrPersistence, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert message into %s: %w", ErrPersistence, msg.StreamID, err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest messages, oldest first
func (s *PostgresMessageStore) RecentMessages(ctx context.Context, streamID string, limit int64) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query, args, err := sq.Select("id", "stream_id", "user_id", "content", "type", "filtered", "sent_at").
		From(messagesTable).
		Where(sq.Eq{"stream_id": streamID}).
		OrderBy("sent_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: build select: %w", ErrPersistence, err)
	}

	var messages []models.ChatMessage
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("%w: read messages of %s: %w", ErrPersistence, streamID, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *PostgresMessageStore) Close() error {
	return s.db.Close()
}
