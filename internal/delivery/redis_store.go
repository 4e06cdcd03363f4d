// Package delivery remembers recently processed webhook deliveries so a
// redelivered event is acknowledged without being acted on twice.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is how long a delivery id is remembered.
const Window = time.Hour

// Record is stored for each delivery id.
type Record struct {
	Event      string    `json:"event"`
	ReceivedAt time.Time `json:"received_at"`
}

// RedisStore records delivery ids in Redis so the window survives restarts
// and is shared between replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "webhook-delivery:",
		window: Window,
	}
}

func (s *RedisStore) key(deliveryID string) string {
	return s.prefix + deliveryID
}

// FirstSeen records deliveryID and reports true only for the first caller
// inside the window.
func (s *RedisStore) FirstSeen(ctx context.Context, deliveryID, event string) (bool, error) {
	payload, err := json.Marshal(Record{Event: event, ReceivedAt: time.Now().UTC()})
	if err != nil {
		return false, fmt.Errorf("marshal delivery record: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.key(deliveryID), payload, s.window).Result()
	if err != nil {
		return false, fmt.Errorf("record delivery: %w", err)
	}
	return created, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
