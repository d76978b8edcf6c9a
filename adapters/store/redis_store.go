package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/layer-3/walletlink/core"
)

// RedisStore is a Redis implementation of ports.Storage. Writes are announced
// on a pub/sub channel so that every context sharing the database observes
// them through Subscribe.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  "walletlink:",
		channel: "walletlink:changes",
	}
}

// Get retrieves the value stored under key
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set stores value under key without expiry
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	s.announce(ctx, key)
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	s.announce(ctx, key)
	return nil
}

// Clear removes every key under the store prefix
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
			for _, k := range keys {
				s.announce(ctx, k[len(s.prefix):])
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Subscribe delivers the current value of every announced key to handler
// until the returned func is called.
func (s *RedisStore) Subscribe(handler func(key string, value []byte)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.client.Subscribe(ctx, s.channel)

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				value, err := s.Get(ctx, msg.Payload)
				if err != nil && !errors.Is(err, core.ErrNotFound) {
					log.Warn().Err(err).Str("key", msg.Payload).Msg("store: failed to read announced key")
					continue
				}
				handler(msg.Payload, value)
			}
		}
	}()

	return cancel
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) announce(ctx context.Context, key string) {
	if err := s.client.Publish(ctx, s.channel, key).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("store: failed to announce change")
	}
}
