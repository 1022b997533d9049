// Package recency suppresses immediate repeats per scope.
//
// A Filter remembers the last K IDs served in each scope (usually a chat),
// most recent first. Candidates removes those from a pool, falling back to
// the whole pool when nothing would be left: an immediate repeat is better
// than refusing to serve. Windows are process-local and lost on restart.
package recency

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxScopes bounds the number of tracked scopes.
const DefaultMaxScopes = 4096

// ErrInvalidWindow is returned for a non-positive window size.
var ErrInvalidWindow = errors.New("recency window must be positive")

// Filter tracks a bounded recency window per scope.
// It is safe for concurrent use.
type Filter struct {
	mu      sync.Mutex
	k       int
	windows *lru.Cache[string, []string]
	rand    *rand.Rand
}

type config struct {
	maxScopes int
	src       rand.Source
}

// Option configures a Filter.
type Option func(*config)

// WithMaxScopes bounds how many scopes are tracked. The least recently
// touched scope is forgotten first.
func WithMaxScopes(n int) Option {
	return func(c *config) {
		c.maxScopes = n
	}
}

// WithRand sets the random source used by Pick.
func WithRand(src rand.Source) Option {
	return func(c *config) {
		c.src = src
	}
}

// New creates a Filter remembering the last k IDs per scope.
func New(k int, opts ...Option) (*Filter, error) {
	if k <= 0 {
		return nil, ErrInvalidWindow
	}
	cfg := config{maxScopes: DefaultMaxScopes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxScopes <= 0 {
		cfg.maxScopes = DefaultMaxScopes
	}
	if cfg.src == nil {
		cfg.src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	windows, err := lru.New[string, []string](cfg.maxScopes)
	if err != nil {
		return nil, err
	}
	return &Filter{
		k:       k,
		windows: windows,
		rand:    rand.New(cfg.src),
	}, nil
}

// Size returns the window bound K.
func (f *Filter) Size() int {
	return f.k
}

// Candidates returns pool minus the scope's window, or pool itself when
// every ID was served recently.
func (f *Filter) Candidates(scope string, pool []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.candidates(scope, pool)
}

func (f *Filter) candidates(scope string, pool []string) []string {
	window, ok := f.windows.Get(scope)
	if !ok || len(window) == 0 {
		return slices.Clone(pool)
	}
	out := make([]string, 0, len(pool))
	for _, id := range pool {
		if !slices.Contains(window, id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return slices.Clone(pool)
	}
	return out
}

// Record pushes id to the front of the scope's window.
func (f *Filter) Record(scope, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(scope, id)
}

func (f *Filter) record(scope, id string) {
	window, _ := f.windows.Get(scope)
	next := make([]string, 0, min(len(window)+1, f.k))
	next = append(next, id)
	for _, prev := range window {
		if len(next) == f.k {
			break
		}
		next = append(next, prev)
	}
	f.windows.Add(scope, next)
}

// Window returns a copy of the scope's window, most recent first.
func (f *Filter) Window(scope string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	window, _ := f.windows.Peek(scope)
	return slices.Clone(window)
}

// Pick chooses uniformly among the candidates and records the choice.
// It reports false only for an empty pool.
func (f *Filter) Pick(scope string, pool []string) (string, bool) {
	if len(pool) == 0 {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	candidates := f.candidates(scope, pool)
	id := candidates[f.rand.IntN(len(candidates))]
	f.record(scope, id)
	return id, true
}

// Forget drops the scope's window.
func (f *Filter) Forget(scope string) {
	f.windows.Remove(scope)
}

// Scopes returns the number of tracked scopes.
func (f *Filter) Scopes() int {
	return f.windows.Len()
}
