package rotation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/metrics"
	"github.com/vinayprograms/chatkit/state"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%02d", i)
	}
	return out
}

func newTestQueue(t *testing.T, opts ...Option) (*Queue, *state.MemoryStore) {
	t.Helper()
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	opts = append([]Option{WithRand(rand.NewPCG(1, 2))}, opts...)
	q, err := New(store, "images", opts...)
	require.NoError(t, err)
	return q, store
}

func assertSingleMembership(t *testing.T, s State, want []string) {
	t.Helper()
	require.NoError(t, s.Validate())
	all := append(append([]string{}, s.Available...), s.Used...)
	sort.Strings(all)
	expected := append([]string{}, want...)
	sort.Strings(expected)
	assert.Equal(t, expected, all)
}

func TestNew_Validation(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()

	_, err := New(nil, "images")
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeInvalidInput))

	for _, pool := range []string{"", "has space", "trailing."} {
		_, err := New(store, pool)
		assert.Error(t, err, "pool %q", pool)
	}

	q, err := New(store, "images")
	require.NoError(t, err)
	assert.Equal(t, "rotation.images", q.Key())
	assert.Equal(t, "images", q.Pool())
}

func TestQueue_Exhaustiveness(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	pool := ids(10)
	require.NoError(t, q.Reconcile(ctx, pool))

	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[string]bool)
		for i := 0; i < len(pool); i++ {
			id, err := q.Next(ctx)
			require.NoError(t, err)
			assert.False(t, seen[id], "cycle %d: %s served twice", cycle, id)
			seen[id] = true
		}
		assert.Len(t, seen, len(pool))
	}
}

func TestQueue_SingleElementPool(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"only"}))

	for i := 0; i < 5; i++ {
		id, err := q.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "only", id)
	}
}

func TestQueue_EmptyPool(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Next(context.Background())
	require.Error(t, err)
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeEmptyPool))
	assert.Equal(t, chaterr.ReactEmpty, chaterr.ReactionFor(err))

	_, err = q.Draw(context.Background(), nil)
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeEmptyPool))
}

func TestQueue_ReconcileNeverRemoves(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Reconcile(ctx, []string{"a", "b", "c"}))
	_, err := q.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Reconcile(ctx, []string{"d", "d", "a"}))
	s, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assertSingleMembership(t, s, []string{"a", "b", "c", "d"})
	assert.Len(t, s.Used, 1)
}

func TestQueue_ReconcileKeepsInputOrder(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Reconcile(ctx, []string{"c", "a", "b", "a"}))
	s, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, s.Available)
	assert.Empty(t, s.Used)
}

func TestQueue_Remove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"a", "b", "c"}))

	served, err := q.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, served))
	require.NoError(t, q.Remove(ctx, "missing"))

	s, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Used)
	assert.Len(t, s.Available, 2)
	assert.False(t, s.Contains(served))
}

func TestQueue_SingleMembershipUnderRandomOps(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	r := rand.New(rand.NewPCG(7, 7))

	known := map[string]bool{}
	for step := 0; step < 500; step++ {
		switch r.IntN(4) {
		case 0:
			batch := []string{fmt.Sprintf("id-%d", r.IntN(20)), fmt.Sprintf("id-%d", r.IntN(20))}
			require.NoError(t, q.Reconcile(ctx, batch))
			for _, id := range batch {
				known[id] = true
			}
		case 1, 2:
			_, err := q.Next(ctx)
			if len(known) == 0 {
				assert.True(t, chaterr.Is(err, chaterr.ErrCodeEmptyPool))
			} else {
				require.NoError(t, err)
			}
		case 3:
			id := fmt.Sprintf("id-%d", r.IntN(20))
			require.NoError(t, q.Remove(ctx, id))
			delete(known, id)
		}

		s, err := q.Snapshot(ctx)
		require.NoError(t, err)
		want := make([]string, 0, len(known))
		for id := range known {
			want = append(want, id)
		}
		assertSingleMembership(t, s, want)
	}
}

func TestQueue_Draw(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	pool := ids(4)

	seen := map[string]bool{}
	for i := 0; i < len(pool); i++ {
		id, err := q.Draw(ctx, pool)
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Len(t, seen, len(pool))

	// A new item joins mid-cycle and is served before the cycle ends.
	q2, _ := newTestQueue(t)
	_, err := q2.Draw(ctx, []string{"a", "b"})
	require.NoError(t, err)
	seen = map[string]bool{}
	for i := 0; i < 2; i++ {
		id, err := q2.Draw(ctx, []string{"a", "b", "c"})
		require.NoError(t, err)
		seen[id] = true
	}
	s, err := q2.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Available)
	assert.Len(t, s.Used, 3)
}

func TestQueue_PersistedShape(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"a"}))

	raw, err := store.Get(ctx, "rotation.images")
	require.NoError(t, err)
	assert.JSONEq(t, `{"available":["a"],"used":[]}`, string(raw))
}

func TestQueue_CorruptStateRecovers(t *testing.T) {
	docs := map[string]string{
		"bad json":  `{"available": [`,
		"overlap":   `{"available":["a"],"used":["a"]}`,
		"duplicate": `{"available":["a","a"],"used":[]}`,
	}

	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			obs := &countingObserver{}
			q, store := newTestQueue(t, WithObserver(obs))
			ctx := context.Background()
			require.NoError(t, store.Put(ctx, q.Key(), []byte(doc), 0))

			_, err := q.Snapshot(ctx)
			assert.True(t, chaterr.Is(err, chaterr.ErrCodeCorruptState))

			id, err := q.Draw(ctx, []string{"a", "b"})
			require.NoError(t, err)
			assert.Contains(t, []string{"a", "b"}, id)
			assert.Equal(t, 1, obs.corrupt)

			s, err := q.Snapshot(ctx)
			require.NoError(t, err)
			assertSingleMembership(t, s, []string{"a", "b"})
		})
	}
}

func TestQueue_Reset(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"a", "b"}))
	_, err := q.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Reset(ctx))
	s, err := q.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Len())
}

func TestQueue_ReshuffleObserved(t *testing.T) {
	obs := &countingObserver{}
	q, _ := newTestQueue(t, WithObserver(obs))
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"a", "b"}))

	for i := 0; i < 3; i++ {
		_, err := q.Next(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, obs.draws)
	assert.Equal(t, 1, obs.reshuffles)
}

// failingStore rejects every update.
type failingStore struct {
	*state.MemoryStore
	err error
}

func (f failingStore) Update(context.Context, string, state.UpdateFunc) error {
	return f.err
}

func TestQueue_StorageFailureLeavesStateIntact(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Reconcile(ctx, []string{"a", "b"}))
	before, err := store.Get(ctx, q.Key())
	require.NoError(t, err)

	broken, err := New(failingStore{store, chaterr.StorageUnavailable("redis", errors.New("down"))}, "images")
	require.NoError(t, err)

	_, err = broken.Next(ctx)
	require.Error(t, err)
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeStorageUnavailable))
	assert.Equal(t, chaterr.ReactRetry, chaterr.ReactionFor(err))

	broken, err = New(failingStore{store, state.ErrConflict}, "images")
	require.NoError(t, err)
	err = broken.Remove(ctx, "a")
	assert.True(t, chaterr.Is(err, chaterr.ErrCodeConflict))

	after, err := store.Get(ctx, q.Key())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestQueue_ConcurrentWorkersShareCycle(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	pool := ids(20)

	// Two workers with their own Queue values over the same store.
	w1, err := New(store, "images")
	require.NoError(t, err)
	w2, err := New(store, "images")
	require.NoError(t, err)
	require.NoError(t, w1.Reconcile(ctx, pool))

	var mu sync.Mutex
	served := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < len(pool); i++ {
		wg.Add(1)
		q := w1
		if i%2 == 1 {
			q = w2
		}
		go func() {
			defer wg.Done()
			id, err := q.Next(ctx)
			assert.NoError(t, err)
			mu.Lock()
			served[id]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, served, len(pool))
	for id, n := range served {
		assert.Equal(t, 1, n, "%s served %d times in one cycle", id, n)
	}
}

func TestQueue_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store, err := state.NewRedisStore(state.RedisStoreConfig{Client: client, Namespace: "chatkit"})
	require.NoError(t, err)

	q, err := New(store, "images", WithRand(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	ctx := context.Background()
	pool := ids(5)

	seen := map[string]bool{}
	for i := 0; i < len(pool); i++ {
		id, err := q.Draw(ctx, pool)
		require.NoError(t, err)
		seen[id] = true
	}
	assert.Len(t, seen, len(pool))

	raw, err := mr.Get("chatkit:rotation.images")
	require.NoError(t, err)
	assert.Contains(t, raw, `"used"`)
}

type countingObserver struct {
	metrics.Nop
	mu         sync.Mutex
	draws      int
	reshuffles int
	corrupt    int
}

func (c *countingObserver) RotationDraw(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draws++
}

func (c *countingObserver) RotationReshuffle(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reshuffles++
}

func (c *countingObserver) RotationCorruptReset(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt++
}
