//go:build integration

package state

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

// getNATSURL returns the NATS URL from environment or default.
func getNATSURL() string {
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	return nats.DefaultURL
}

// newTestNATSStore creates a NATSStore for testing.
func newTestNATSStore(t *testing.T, bucket string) *NATSStore {
	conn, err := nats.Connect(getNATSURL())
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}

	store, err := NewNATSStore(NATSStoreConfig{
		Conn:   conn,
		Bucket: bucket,
	})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATSStore failed: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
		conn.Close()
	})

	return store
}

// ============================================================================
// LEVEL 1: Basic Get/Put/Delete
// ============================================================================

func TestNATSStore_Get_NotFound(t *testing.T) {
	s := newTestNATSStore(t, "test-get-notfound")

	_, err := s.Get(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNATSStore_PutGetDelete(t *testing.T) {
	s := newTestNATSStore(t, "test-put-get")
	ctx := context.Background()

	if err := s.Put(ctx, "rotation.quotes", []byte("doc"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, "rotation.quotes")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "doc" {
		t.Errorf("expected doc, got %s", got)
	}

	if err := s.Delete(ctx, "rotation.quotes"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "rotation.quotes"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

// ============================================================================
// LEVEL 2: Expiry and counters
// ============================================================================

func TestNATSStore_PerKeyExpiry(t *testing.T) {
	s := newTestNATSStore(t, "test-expiry")
	ctx := context.Background()

	now := time.Now()
	s.nowFunc = func() time.Time { return now }

	if err := s.Put(ctx, "pending.1", []byte("v"), 30*time.Second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Get(ctx, "pending.1"); err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}

	now = now.Add(31 * time.Second)
	if _, err := s.Get(ctx, "pending.1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestNATSStore_Incr(t *testing.T) {
	s := newTestNATSStore(t, "test-incr")
	ctx := context.Background()
	s.Delete(ctx, "ratelimit.retroq.1")

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "ratelimit.retroq.1", time.Minute)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != i {
			t.Errorf("expected %d, got %d", i, n)
		}
	}

	ttl, err := s.TTL(ctx, "ratelimit.retroq.1")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected TTL %v", ttl)
	}
}

// ============================================================================
// LEVEL 3: Concurrent CAS
// ============================================================================

func TestNATSStore_ConcurrentUpdate(t *testing.T) {
	s := newTestNATSStore(t, "test-concurrent-update")
	ctx := context.Background()
	s.Delete(ctx, "doc")
	s.config.MaxRetries = 1000

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "doc", func(current []byte, exists bool) ([]byte, error) {
				n := 0
				if exists {
					n, _ = strconv.Atoi(string(current))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "doc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != strconv.Itoa(workers) {
		t.Errorf("expected %d, got %s", workers, got)
	}
}
