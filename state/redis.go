package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	chaterr "github.com/vinayprograms/chatkit/errors"
)

// incrScript increments a counter and attaches the window expiry in the
// same server-side step. A counter that somehow lost its expiry gets one.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) == -1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStoreConfig holds Redis store configuration.
type RedisStoreConfig struct {
	// Client is the Redis client to use (single node, cluster or sentinel).
	Client redis.UniversalClient

	// Namespace is prepended to every key, separated by ':'.
	Namespace string

	// MaxRetries bounds WATCH/MULTI attempts in Update.
	// Default: DefaultMaxRetries
	MaxRetries int
}

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
	config RedisStoreConfig
	closed atomic.Bool
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &RedisStore{client: cfg.Client, config: cfg}, nil
}

func (s *RedisStore) key(key string) string {
	if s.config.Namespace == "" {
		return key
	}
	return s.config.Namespace + ":" + key
}

func (s *RedisStore) check(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return chaterr.StorageUnavailable("redis", err)
}

// Get retrieves a value by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return val, nil
}

// Put stores a value with optional TTL.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Delete removes a key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Keys returns all keys matching a pattern using SCAN.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	prefix := ""
	if s.config.Namespace != "" {
		prefix = s.config.Namespace + ":"
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), prefix)
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err)
	}
	return keys, nil
}

// Update runs fn inside a WATCH/MULTI transaction, retrying when another
// client modified the key between the read and the EXEC.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := s.check(key); err != nil {
		return err
	}
	rkey := s.key(key)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, rkey).Bytes()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = nil
		} else if err != nil {
			return unavailable(err)
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, rkey)
				return nil
			}
			pipe.Set(ctx, rkey, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < s.config.MaxRetries; i++ {
		err := s.client.Watch(ctx, txf, rkey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var botErr *chaterr.Error
		if errors.As(err, &botErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if isDriverError(err) {
			return unavailable(err)
		}
		return err
	}
	return ErrConflict
}

// isDriverError reports whether err came from the Redis connection rather
// than from the caller's UpdateFunc.
func isDriverError(err error) bool {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}

// Incr increments the counter at key and sets its expiry on a fresh window.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}
	if ttl == 0 {
		n, err := s.client.Incr(ctx, s.key(key)).Result()
		if err != nil {
			return 0, unavailable(err)
		}
		return n, nil
	}
	n, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		var redisErr redis.Error
		if errors.As(err, &redisErr) && strings.Contains(redisErr.Error(), "not an integer") {
			return 0, ErrNotCounter
		}
		return 0, unavailable(err)
	}
	return n, nil
}

// TTL returns the remaining lifetime of key.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	d, err := s.client.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	switch {
	case d == -2:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	}
	return d, nil
}

// Close marks the store closed. The client is owned by the caller.
func (s *RedisStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*RedisStore)(nil)
