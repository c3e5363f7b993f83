package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an abandoned session's keys linger in redis.
const DefaultTTL = 12 * time.Hour

// RedisStore keeps session values in redis under a namespace unique to
// this process, so a restart starts from a clean session while reconnecting
// callers in the same run share state.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// SessionID namespaces keys. Empty means a fresh random id.
	SessionID string
	TTL       time.Duration
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts RedisOptions) *RedisStore {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &RedisStore{
		client:    client,
		namespace: "trackerbridge:session:" + opts.SessionID + ":",
		ttl:       opts.TTL,
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect session redis %s: %w", addr, err)
	}
	return NewRedisStore(client, opts), nil
}

// SessionKey returns the fully qualified redis key for key.
func (s *RedisStore) SessionKey(key string) string {
	return s.namespace + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.SessionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.SessionKey(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("session set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.SessionKey(key)).Err(); err != nil {
		return fmt.Errorf("session delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
