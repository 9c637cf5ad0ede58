package services

import (
	"context"
	"encoding/json"
	"errors"
	"flowdeck/internal/models"
	"fmt"
	"log"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// MirrorKey builds the composite key used in the global memory mirror
func MirrorKey(sessionID, key string) string {
	return sessionID + ":" + key
}

// MemoryMirror is the process-wide flattened copy of every session's memory
type MemoryMirror interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) (interface{}, bool, error)
	All(ctx context.Context) (map[string]interface{}, error)
	Len(ctx context.Context) (int, error)
}

// CacheMirror keeps the mirror in an in-process go-cache with no expiry
type CacheMirror struct {
	cache *cache.Cache
}

// NewCacheMirror creates an in-process mirror
func NewCacheMirror() *CacheMirror {
	return &CacheMirror{cache: cache.New(cache.NoExpiration, 0)}
}

// Set implements MemoryMirror
func (m *CacheMirror) Set(_ context.Context, key string, value interface{}) error {
	m.cache.Set(key, value, cache.NoExpiration)
	return nil
}

// Get implements MemoryMirror
func (m *CacheMirror) Get(_ context.Context, key string) (interface{}, bool, error) {
	value, ok := m.cache.Get(key)
	return value, ok, nil
}

// All implements MemoryMirror
func (m *CacheMirror) All(_ context.Context) (map[string]interface{}, error) {
	items := m.cache.Items()
	out := make(map[string]interface{}, len(items))
	for k, item := range items {
		out[k] = item.Object
	}
	return out, nil
}

// Len implements MemoryMirror
func (m *CacheMirror) Len(_ context.Context) (int, error) {
	return m.cache.ItemCount(), nil
}

// Redis names used by the mirror
const (
	RedisMirrorHash    = "flowdeck:memory"
	RedisMirrorChannel = "flowdeck:memory:updates"
)

// RedisMirror keeps the mirror in a Redis hash; values are JSON encoded.
// Every write is also announced on RedisMirrorChannel with the composite key.
type RedisMirror struct {
	redis *RedisService
	hash  string
}

// NewRedisMirror creates a mirror backed by the given Redis service
func NewRedisMirror(r *RedisService) *RedisMirror {
	return &RedisMirror{redis: r, hash: RedisMirrorHash}
}

// Set implements MemoryMirror
func (m *RedisMirror) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode memory value: %w", err)
	}
	if err := m.redis.Client().HSet(ctx, m.hash, key, data).Err(); err != nil {
		return err
	}
	if err := m.redis.Publish(ctx, RedisMirrorChannel, key); err != nil {
		log.Printf("⚠️  [MEMORY] Failed to publish update for %s: %v", key, err)
	}
	return nil
}

// Get implements MemoryMirror
func (m *RedisMirror) Get(ctx context.Context, key string) (interface{}, bool, error) {
	raw, err := m.redis.Client().HGet(ctx, m.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode memory value: %w", err)
	}
	return value, true, nil
}

// All implements MemoryMirror
func (m *RedisMirror) All(ctx context.Context) (map[string]interface{}, error) {
	raw, err := m.redis.Client().HGetAll(ctx, m.hash).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		var value interface{}
		if err := json.Unmarshal([]byte(v), &value); err != nil {
			value = v
		}
		out[k] = value
	}
	return out, nil
}

// Len implements MemoryMirror
func (m *RedisMirror) Len(ctx context.Context) (int, error) {
	n, err := m.redis.Client().HLen(ctx, m.hash).Result()
	return int(n), err
}

// MemoryStore writes per-session memory and its global mirror.
// The two are written one after the other; there is no atomicity across them.
type MemoryStore struct {
	mirror MemoryMirror
}

// NewMemoryStore creates a store over the given mirror
func NewMemoryStore(mirror MemoryMirror) *MemoryStore {
	if mirror == nil {
		mirror = NewCacheMirror()
	}
	return &MemoryStore{mirror: mirror}
}

// Store writes key=value into the session and the mirror
func (s *MemoryStore) Store(ctx context.Context, session *models.Session, key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("memory key is required")
	}
	session.SetMemory(key, value)

	if err := s.mirror.Set(ctx, MirrorKey(session.ID, key), value); err != nil {
		return fmt.Errorf("failed to mirror memory key %s: %w", key, err)
	}
	return nil
}

// Retrieve reads key from the session, falling back to the mirror
func (s *MemoryStore) Retrieve(ctx context.Context, session *models.Session, key string) (interface{}, bool) {
	if value, ok := session.GetMemory(key); ok {
		return value, true
	}

	value, ok, err := s.mirror.Get(ctx, MirrorKey(session.ID, key))
	if err != nil {
		log.Printf("⚠️  [MEMORY] Mirror lookup failed for %s: %v", MirrorKey(session.ID, key), err)
		return nil, false
	}
	return value, ok
}

// Rehydrate copies every memory entry of session into the mirror (used on resume)
func (s *MemoryStore) Rehydrate(ctx context.Context, session *models.Session) error {
	for key, value := range session.Memory() {
		if err := s.mirror.Set(ctx, MirrorKey(session.ID, key), value); err != nil {
			return fmt.Errorf("failed to mirror memory key %s: %w", key, err)
		}
	}
	return nil
}

// Snapshot returns the whole mirror
func (s *MemoryStore) Snapshot(ctx context.Context) (map[string]interface{}, error) {
	return s.mirror.All(ctx)
}

// Count returns the number of mirrored entries
func (s *MemoryStore) Count(ctx context.Context) int {
	n, err := s.mirror.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}
