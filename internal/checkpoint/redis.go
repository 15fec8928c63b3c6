// Package checkpoint persists the simulation time cursor in Redis so a
// restarted simulator continues where it stopped.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cursorKey = "cursor"

// RedisCursorStore saves the cursor under <prefix>cursor
type RedisCursorStore struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
}

// Connect parses a redis:// URL, pings the server and returns the client
func Connect(ctx context.Context, url string, timeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("[REDIS] invalid REDIS_URL: %w", err)
	}
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("[REDIS] failed to connect: %w", err)
	}
	return client, nil
}

// NewRedisCursorStore creates a cursor store over an existing client
func NewRedisCursorStore(client redis.Cmdable, prefix string, timeout time.Duration) *RedisCursorStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisCursorStore{client: client, prefix: prefix, timeout: timeout}
}

// Key returns the Redis key holding the cursor
func (s *RedisCursorStore) Key() string {
	return s.prefix + cursorKey
}

// Load returns the saved cursor. ok is false when nothing was saved yet.
func (s *RedisCursorStore) Load(ctx context.Context) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.client.Get(ctx, s.Key()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load cursor: %w", err)
	}

	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor value %q: %w", raw, err)
	}
	return index, true, nil
}

// Save stores the cursor without expiry
func (s *RedisCursorStore) Save(ctx context.Context, index int) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.Key(), strconv.Itoa(index), 0).Err(); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Clear removes the saved cursor
func (s *RedisCursorStore) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.client.Del(ctx, s.Key()).Err()
}
