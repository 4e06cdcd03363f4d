package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, s := setupTestRedis(t)
	defer s.Close()
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisFirstSeen(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	first, err := store.FirstSeen(ctx, "delivery-1", "post_liked")
	if err != nil {
		t.Fatalf("FirstSeen failed: %v", err)
	}
	if !first {
		t.Fatal("first delivery should be reported as new")
	}

	again, err := store.FirstSeen(ctx, "delivery-1", "post_liked")
	if err != nil {
		t.Fatalf("FirstSeen failed: %v", err)
	}
	if again {
		t.Fatal("duplicate delivery should be reported as seen")
	}

	record, found, err := store.lookup(ctx, "delivery-1")
	if err != nil || !found {
		t.Fatalf("Lookup = %v, %v", found, err)
	}
	if record.Event != "post_liked" {
		t.Errorf("expected event post_liked, got %q", record.Event)
	}

	other, err := store.FirstSeen(ctx, "delivery-2", "post_liked")
	if err != nil || !other {
		t.Fatalf("distinct delivery should be new: %v, %v", other, err)
	}
}

func TestRedisWindowExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := store.FirstSeen(ctx, "delivery-1", "post_liked"); err != nil {
		t.Fatalf("FirstSeen failed: %v", err)
	}

	s.FastForward(Window + time.Second)

	if _, found, _ := store.lookup(ctx, "delivery-1"); found {
		t.Fatal("record should have expired")
	}
	fresh, err := store.FirstSeen(ctx, "delivery-1", "post_liked")
	if err != nil || !fresh {
		t.Fatalf("expired delivery should be new again: %v, %v", fresh, err)
	}
}

func TestMemoryStoreWindow(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if first, _ := store.FirstSeen(ctx, "a", ""); !first {
		t.Fatal("first delivery should be new")
	}
	if again, _ := store.FirstSeen(ctx, "a", ""); again {
		t.Fatal("duplicate should be seen")
	}

	now = now.Add(Window + time.Minute)
	if fresh, _ := store.FirstSeen(ctx, "a", ""); !fresh {
		t.Fatal("expired delivery should be new again")
	}
}

// lookup returns the stored record for deliveryID.
func (s *RedisStore) lookup(ctx context.Context, deliveryID string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, s.key(deliveryID)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup delivery: %w", err)
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal delivery record: %w", err)
	}
	return record, true, nil
}
