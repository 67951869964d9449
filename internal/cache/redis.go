package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"realtime-board/internal/board"
)

// RedisClient wraps the Redis client used for board documents and room events.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Infof("[Redis] Connected to %s", addr)
	return &RedisClient{client: client}, nil
}

// NewRedisClientFrom wraps an existing client.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Client returns the underlying client so other Redis-backed components can
// share the connection pool.
func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func documentKey(roomID string) string {
	return "room:" + roomID + ":document"
}

// LoadDocument returns the stored document of a room, or nil if there is none.
func (r *RedisClient) LoadDocument(ctx context.Context, roomID string) (*board.Document, error) {
	data, err := r.client.Get(ctx, documentKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc board.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", roomID, err)
	}
	if doc.Cards == nil {
		doc.Cards = []board.Card{}
	}
	if doc.ZOrder == nil {
		doc.ZOrder = []string{}
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("stored document %s: %w", roomID, err)
	}
	return &doc, nil
}

// SaveDocument overwrites the stored document of a room.
func (r *RedisClient) SaveDocument(ctx context.Context, roomID string, doc *board.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, documentKey(roomID), data, 0).Err(); err != nil {
		log.Errorf("[Redis] Failed to save document %s: %v", roomID, err)
		return err
	}
	return nil
}

// DeleteDocument removes all persisted state of a room.
func (r *RedisClient) DeleteDocument(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, documentKey(roomID)).Err()
}

// ClearDocuments removes every cached room document and returns how many
// were removed.
func (r *RedisClient) ClearDocuments(ctx context.Context) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, documentKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health checks if Redis is healthy
func (r *RedisClient) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
