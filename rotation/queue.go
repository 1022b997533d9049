package rotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"

	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/metrics"
	"github.com/vinayprograms/chatkit/state"
)

// KeyPrefix prefixes every rotation document key.
const KeyPrefix = "rotation."

// Store is the subset of state.Store a Queue needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Update(ctx context.Context, key string, fn state.UpdateFunc) error
}

// State is the persisted rotation document.
type State struct {
	Available []string `json:"available"`
	Used      []string `json:"used"`
}

// Len returns the number of known IDs.
func (s State) Len() int {
	return len(s.Available) + len(s.Used)
}

// Contains reports whether id is known to either set.
func (s State) Contains(id string) bool {
	return slices.Contains(s.Available, id) || slices.Contains(s.Used, id)
}

// Validate checks that no ID appears twice across both sets.
func (s State) Validate() error {
	seen := make(map[string]string, s.Len())
	check := func(set string, ids []string) error {
		for _, id := range ids {
			if id == "" {
				return fmt.Errorf("empty id in %s", set)
			}
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("id %q in both %s and %s", id, prev, set)
			}
			seen[id] = set
		}
		return nil
	}
	if err := check("available", s.Available); err != nil {
		return err
	}
	return check("used", s.Used)
}

// Queue is a fair-shuffle selector for one pool.
// It is safe for concurrent use; atomicity comes from the store.
type Queue struct {
	store    Store
	pool     string
	key      string
	logger   *logging.Logger
	observer metrics.Observer

	randMu sync.Mutex
	rand   *rand.Rand
}

// Option configures a Queue.
type Option func(*Queue)

// WithRand sets the random source used to pick from available.
func WithRand(src rand.Source) Option {
	return func(q *Queue) {
		q.rand = rand.New(src)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(q *Queue) {
		q.observer = o
	}
}

// New creates a Queue for pool backed by store.
func New(store Store, pool string, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, chaterr.InvalidInput("rotation store required")
	}
	key := KeyPrefix + pool
	if pool == "" || state.ValidateKey(key) != nil {
		return nil, chaterr.InvalidInput(fmt.Sprintf("invalid rotation pool %q", pool))
	}

	q := &Queue{
		store: store,
		pool:  pool,
		key:   key,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.rand == nil {
		q.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	q.logger = logging.OrNop(q.logger).WithComponent("rotation")
	q.observer = metrics.OrNop(q.observer)
	return q, nil
}

// Pool returns the pool name.
func (q *Queue) Pool() string {
	return q.pool
}

// Key returns the state key holding the rotation document.
func (q *Queue) Key() string {
	return q.key
}

func (q *Queue) intn(n int) int {
	q.randMu.Lock()
	defer q.randMu.Unlock()
	return q.rand.IntN(n)
}

// txn carries per-attempt facts out of an Update callback so they are only
// reported once the write has committed.
type txn struct {
	corrupt    error
	reshuffled int
	picked     string
}

// mutate runs fn against the decoded document inside one atomic update.
// fn reports whether it changed the document.
func (q *Queue) mutate(ctx context.Context, fn func(s *State, tx *txn) (bool, error)) (txn, error) {
	var tx txn
	err := q.store.Update(ctx, q.key, func(current []byte, exists bool) ([]byte, error) {
		tx = txn{}
		var s State
		changed := false
		if exists {
			if err := decode(current, &s); err != nil {
				tx.corrupt = err
				s = State{}
				changed = true
			}
		}

		fnChanged, err := fn(&s, &tx)
		if err != nil {
			return nil, err
		}
		if !changed && !fnChanged {
			if exists {
				return current, nil
			}
			return nil, nil
		}
		return encode(s)
	})

	if tx.corrupt != nil && err == nil {
		q.logger.CorruptState(q.key, tx.corrupt)
		q.observer.RotationCorruptReset(q.pool)
	}
	if err != nil {
		return tx, q.wrap(err)
	}
	if tx.reshuffled > 0 {
		q.logger.Reshuffled(q.pool, tx.reshuffled)
		q.observer.RotationReshuffle(q.pool)
	}
	return tx, nil
}

func (q *Queue) wrap(err error) error {
	if chaterr.AsBotError(err) != nil {
		return err
	}
	if errors.Is(err, state.ErrConflict) {
		return chaterr.Conflict("rotation update lost every retry",
			chaterr.WithCause(err), chaterr.WithMetadata("pool", q.pool))
	}
	return chaterr.Wrap(err, "rotation "+q.pool)
}

func encode(s State) ([]byte, error) {
	if s.Available == nil {
		s.Available = []string{}
	}
	if s.Used == nil {
		s.Used = []string{}
	}
	return json.Marshal(s)
}

func decode(data []byte, s *State) error {
	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	return s.Validate()
}

// reconcile appends IDs unknown to both sets, in input order.
func reconcile(s *State, ids []string) bool {
	known := make(map[string]struct{}, s.Len()+len(ids))
	for _, id := range s.Available {
		known[id] = struct{}{}
	}
	for _, id := range s.Used {
		known[id] = struct{}{}
	}
	changed := false
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		s.Available = append(s.Available, id)
		changed = true
	}
	return changed
}

// next moves one random available ID to used, reshuffling first if needed.
func (q *Queue) next(s *State, tx *txn) (string, error) {
	if len(s.Available) == 0 {
		if len(s.Used) == 0 {
			return "", chaterr.EmptyPool(q.pool)
		}
		s.Available, s.Used = s.Used, nil
		tx.reshuffled = len(s.Available)
	}
	i := q.intn(len(s.Available))
	id := s.Available[i]
	s.Available = slices.Delete(s.Available, i, i+1)
	s.Used = append(s.Used, id)
	tx.picked = id
	return id, nil
}

// Reconcile adds IDs from the current pool that the queue has not seen.
// It never removes anything; deletions go through Remove.
func (q *Queue) Reconcile(ctx context.Context, ids []string) error {
	_, err := q.mutate(ctx, func(s *State, _ *txn) (bool, error) {
		return reconcile(s, ids), nil
	})
	return err
}

// Next returns the next ID of the current cycle. An empty pool yields an
// EMPTY_POOL error.
func (q *Queue) Next(ctx context.Context) (string, error) {
	tx, err := q.mutate(ctx, func(s *State, tx *txn) (bool, error) {
		_, err := q.next(s, tx)
		return err == nil, err
	})
	if err != nil {
		return "", err
	}
	q.observer.RotationDraw(q.pool)
	return tx.picked, nil
}

// Draw reconciles against ids and picks the next ID in a single update.
func (q *Queue) Draw(ctx context.Context, ids []string) (string, error) {
	tx, err := q.mutate(ctx, func(s *State, tx *txn) (bool, error) {
		reconcile(s, ids)
		_, err := q.next(s, tx)
		return err == nil, err
	})
	if err != nil {
		return "", err
	}
	q.observer.RotationDraw(q.pool)
	return tx.picked, nil
}

// Remove drops id from whichever set holds it. Unknown IDs are a no-op.
func (q *Queue) Remove(ctx context.Context, id string) error {
	_, err := q.mutate(ctx, func(s *State, _ *txn) (bool, error) {
		if i := slices.Index(s.Available, id); i >= 0 {
			s.Available = slices.Delete(s.Available, i, i+1)
			return true, nil
		}
		if i := slices.Index(s.Used, id); i >= 0 {
			s.Used = slices.Delete(s.Used, i, i+1)
			return true, nil
		}
		return false, nil
	})
	return err
}

// Snapshot returns the persisted document. A missing document is empty.
func (q *Queue) Snapshot(ctx context.Context) (State, error) {
	data, err := q.store.Get(ctx, q.key)
	if errors.Is(err, state.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, q.wrap(err)
	}
	var s State
	if err := decode(data, &s); err != nil {
		return State{}, chaterr.CorruptState(q.key, err)
	}
	return s, nil
}

// Reset deletes the rotation document; the next Reconcile starts a fresh cycle.
func (q *Queue) Reset(ctx context.Context) error {
	err := q.store.Update(ctx, q.key, func([]byte, bool) ([]byte, error) {
		return nil, nil
	})
	if err != nil {
		return q.wrap(err)
	}
	q.logger.Info("rotation reset", map[string]any{"pool": q.pool})
	return nil
}
