package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	chaterr "github.com/vinayprograms/chatkit/errors"
)

// NATSStore implements Store using NATS JetStream KV.
//
// JetStream KV only supports a bucket-wide TTL, so every value is wrapped in
// an envelope that carries its own expiry. Expired entries read as missing.
type NATSStore struct {
	kv      jetstream.KeyValue
	config  NATSStoreConfig
	closed  atomic.Bool
	nowFunc func() time.Time
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// History is the number of revisions to keep per key.
	// Default: 1
	History int

	// MaxValueSize is the maximum value size in bytes.
	// Default: 1MB
	MaxValueSize int32

	// OpTimeout bounds a single KV round trip when ctx has no deadline.
	// Default: 5s
	OpTimeout time.Duration

	// MaxRetries bounds revision conflicts in Update.
	// Default: DefaultMaxRetries
	MaxRetries int
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "chatkit-state",
		History:      1,
		MaxValueSize: 1024 * 1024, // 1MB
		OpTimeout:    5 * time.Second,
		MaxRetries:   DefaultMaxRetries,
	}
}

// envelope is the stored representation of a value.
type envelope struct {
	Value   []byte `json:"v"`
	Expires int64  `json:"e,omitempty"` // unix millis, 0 = never
}

// NewNATSStore creates a new NATS JetStream KV store.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	defaults := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.History <= 0 {
		cfg.History = defaults.History
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      uint8(cfg.History),
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		kv:      kv,
		config:  cfg,
		nowFunc: time.Now,
	}, nil
}

func (s *NATSStore) check(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (s *NATSStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OpTimeout)
}

func natsUnavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return chaterr.StorageUnavailable("nats", fmt.Errorf("kv %s: %w", op, err))
}

// isRevisionConflict reports whether a conditional write lost a race.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func (s *NATSStore) encode(value []byte, ttl time.Duration) ([]byte, error) {
	env := envelope{Value: value}
	if ttl > 0 {
		env.Expires = s.nowFunc().Add(ttl).UnixMilli()
	}
	return json.Marshal(env)
}

// load reads key and decodes its envelope. An expired entry reports
// exists=false but still returns its revision so a writer can replace it.
func (s *NATSStore) load(ctx context.Context, key string) (env envelope, rev uint64, exists bool, err error) {
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return envelope{}, 0, false, nil
	}
	if err != nil {
		return envelope{}, 0, false, natsUnavailable("get", err)
	}
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return envelope{}, 0, false, chaterr.CorruptState(key, err)
	}
	if env.Expires > 0 && s.nowFunc().UnixMilli() >= env.Expires {
		return envelope{}, entry.Revision(), false, nil
	}
	return env, entry.Revision(), true, nil
}

// Get retrieves a value by key.
func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	env, _, exists, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	return env.Value, nil
}

// Put stores a value with optional TTL.
func (s *NATSStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.check(key); err != nil {
		return err
	}
	if err := ValidateTTL(ttl); err != nil {
		return err
	}
	data, err := s.encode(value, ttl)
	if err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.kv.Put(ctx, key, data); err != nil {
		return natsUnavailable("put", err)
	}
	return nil
}

// Delete removes a key.
func (s *NATSStore) Delete(ctx context.Context, key string) error {
	if err := s.check(key); err != nil {
		return err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return natsUnavailable("delete", err)
	}
	return nil
}

// Keys returns all keys matching a pattern.
func (s *NATSStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, natsUnavailable("list keys", err)
	}
	defer lister.Stop()

	var keys []string
	for key := range lister.Keys() {
		if MatchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Update applies fn using revision-checked writes, retrying on conflict.
func (s *NATSStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.update(ctx, key, func(env envelope, exists bool) (*envelope, error) {
		var current []byte
		if exists {
			current = env.Value
		}
		next, err := fn(current, exists)
		if err != nil || next == nil {
			return nil, err
		}
		return &envelope{Value: next}, nil
	})
}

// update is the CAS loop shared by Update and Incr. A nil envelope from fn
// deletes the key.
func (s *NATSStore) update(ctx context.Context, key string, fn func(env envelope, exists bool) (*envelope, error)) error {
	for i := 0; i < s.config.MaxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.tryUpdate(ctx, key, fn)
		if err == nil {
			return nil
		}
		if !isRevisionConflict(err) {
			return err
		}
	}
	return ErrConflict
}

func (s *NATSStore) tryUpdate(ctx context.Context, key string, fn func(env envelope, exists bool) (*envelope, error)) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	env, rev, exists, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(env, exists)
	if err != nil {
		return err
	}

	if next == nil {
		if rev == 0 {
			return nil
		}
		err = s.kv.Delete(ctx, key, jetstream.LastRevision(rev))
		if err != nil && !isRevisionConflict(err) {
			return natsUnavailable("delete", err)
		}
		return err
	}

	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if rev == 0 {
		_, err = s.kv.Create(ctx, key, data)
	} else {
		_, err = s.kv.Update(ctx, key, data, rev)
	}
	if err != nil && !isRevisionConflict(err) {
		return natsUnavailable("update", err)
	}
	return err
}

// Incr increments the counter at key. A fresh or expired counter starts a
// new window of length ttl.
func (s *NATSStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	if err := ValidateTTL(ttl); err != nil {
		return 0, err
	}

	var n int64
	err := s.update(ctx, key, func(env envelope, exists bool) (*envelope, error) {
		if !exists {
			n = 1
			next := &envelope{Value: []byte("1")}
			if ttl > 0 {
				next.Expires = s.nowFunc().Add(ttl).UnixMilli()
			}
			return next, nil
		}
		cur, err := strconv.ParseInt(string(env.Value), 10, 64)
		if err != nil {
			return nil, ErrNotCounter
		}
		n = cur + 1
		return &envelope{Value: []byte(strconv.FormatInt(n, 10)), Expires: env.Expires}, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// TTL returns the remaining lifetime of key, 0 if it never expires.
func (s *NATSStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	env, _, exists, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrNotFound
	}
	if env.Expires == 0 {
		return 0, nil
	}
	return time.UnixMilli(env.Expires).Sub(s.nowFunc()), nil
}

// Close marks the store closed. The connection is owned by the caller.
func (s *NATSStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*NATSStore)(nil)
