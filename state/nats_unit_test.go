package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ============================================================================
// Unit tests for nats.go that don't require a NATS server
// ============================================================================

func TestDefaultNATSStoreConfig(t *testing.T) {
	cfg := DefaultNATSStoreConfig()

	if cfg.Bucket != "chatkit-state" {
		t.Errorf("expected bucket 'chatkit-state', got %s", cfg.Bucket)
	}
	if cfg.History != 1 {
		t.Errorf("expected history 1, got %d", cfg.History)
	}
	if cfg.MaxValueSize != 1024*1024 {
		t.Errorf("expected max value size 1MB, got %d", cfg.MaxValueSize)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, cfg.MaxRetries)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	_, err := NewNATSStore(NATSStoreConfig{
		Conn:   nil,
		Bucket: "test",
	})

	if err == nil {
		t.Error("expected error for nil connection")
	}
}

func TestIsRevisionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"key exists", jetstream.ErrKeyExists, true},
		{"wrapped key exists", fmt.Errorf("create: %w", jetstream.ErrKeyExists), true},
		{"wrong last sequence", &jetstream.APIError{ErrorCode: jetstream.JSErrCodeStreamWrongLastSequence}, true},
		{"other api error", &jetstream.APIError{ErrorCode: jetstream.JSErrCodeStreamNotFound}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRevisionConflict(tt.err); got != tt.want {
				t.Errorf("isRevisionConflict(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNATSStore_Encode(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &NATSStore{nowFunc: func() time.Time { return now }}

	data, err := s.encode([]byte("hello"), time.Minute)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(env.Value) != "hello" {
		t.Errorf("expected value hello, got %s", env.Value)
	}
	if env.Expires != now.Add(time.Minute).UnixMilli() {
		t.Errorf("unexpected expiry %d", env.Expires)
	}

	data, _ = s.encode([]byte("x"), 0)
	env = envelope{}
	json.Unmarshal(data, &env)
	if env.Expires != 0 {
		t.Errorf("expected no expiry, got %d", env.Expires)
	}
}

func TestNATSStore_ClosedAndInvalid(t *testing.T) {
	s := &NATSStore{nowFunc: time.Now}
	s.closed.Store(true)

	if _, err := s.Get(t.Context(), "k"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := s.Keys(t.Context(), "*"); err != ErrClosed {
		t.Errorf("expected ErrClosed from Keys, got %v", err)
	}
	if err := s.Put(t.Context(), "", nil, 0); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}
