package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/features"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/metrics"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/telemetry"
)

// Config controls dispatch concurrency and deduplication.
type Config struct {
	// Workers bounds updates handled at once.
	Workers int

	// DedupSize is how many recent update IDs are remembered.
	DedupSize int

	// HandlerTimeout bounds a single update across all handlers.
	HandlerTimeout time.Duration
}

// DefaultConfig returns the settings used by chatkit serve.
func DefaultConfig() Config {
	return Config{
		Workers:        16,
		DedupSize:      1024,
		HandlerTimeout: 30 * time.Second,
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithTracer sets the tracer. Defaults to the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Outcome describes how one update was handled.
type Outcome struct {
	// Feature is the handler that consumed the update, or "".
	Feature string

	// Duplicate is set when the update ID was already seen.
	Duplicate bool

	// Err is the first handler error.
	Err error
}

// Dispatcher offers updates to handlers in order.
type Dispatcher struct {
	cfg      Config
	handlers []features.Handler
	logger   *logging.Logger
	observer metrics.Observer
	tracer   *telemetry.Tracer

	dedupMu sync.Mutex
	seen    *lru.Cache[int64, struct{}]

	sem      *semaphore.Weighted
	inflight sync.WaitGroup

	newTraceID func() string
}

// New creates a dispatcher over handlers.
func New(cfg Config, handlers []features.Handler, opts ...Option) (*Dispatcher, error) {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = def.DedupSize
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	seen, err := lru.New[int64, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("update deduper init: %w", err)
	}

	d := &Dispatcher{
		cfg:        cfg,
		handlers:   handlers,
		seen:       seen,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		newTraceID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrNop(d.logger).WithComponent("dispatcher")
	d.observer = metrics.OrNop(d.observer)
	if d.tracer == nil {
		d.tracer = telemetry.GetTracer()
	}
	return d, nil
}

// Run dispatches updates until the channel closes or ctx is done, then
// waits for in-flight updates.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan *platform.Update) error {
	defer d.inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u == nil {
				continue
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			d.inflight.Add(1)
			go func() {
				defer d.inflight.Done()
				defer d.sem.Release(1)
				// Handlers finish their reply even when intake stops.
				d.Dispatch(context.WithoutCancel(ctx), u)
			}()
		}
	}
}

// Drain waits for in-flight updates or until ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch handles one update synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, u *platform.Update) Outcome {
	traceID := d.newTraceID()
	logger := d.logger.WithTraceID(traceID)

	opts := telemetry.UpdateSpanOptions{
		UpdateID: u.UpdateID,
		Kind:     u.Kind(),
		ChatID:   u.ChatID(),
		TraceID:  traceID,
	}
	if u.Message != nil {
		opts.Text = u.Message.Content()
		if u.Message.From != nil {
			opts.UserID = u.Message.From.ID
		}
	}
	ctx, span := d.tracer.StartUpdateSpan(ctx, opts)

	if d.duplicate(u.UpdateID) {
		logger.Debug("duplicate update skipped", map[string]any{"update": u.UpdateID})
		out := Outcome{Duplicate: true}
		d.tracer.EndUpdateSpan(span, telemetry.UpdateResult{Duplicate: true}, nil)
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	var out Outcome
	for _, h := range d.handlers {
		start := time.Now()
		consumed, err := d.invoke(ctx, h, u)
		elapsed := time.Since(start)

		if err != nil || consumed {
			d.observer.UpdateHandled(h.Name(), elapsed, err)
			logger.UpdateHandled(h.Name(), u.UpdateID, elapsed, err)
		}
		if err != nil && out.Err == nil {
			out.Err = err
		}
		if consumed {
			out.Feature = h.Name()
			break
		}
	}

	d.tracer.EndUpdateSpan(span, telemetry.UpdateResult{Feature: out.Feature}, out.Err)
	return out
}

// invoke runs one handler inside its own span, converting a panic into a
// PANIC error.
func (d *Dispatcher) invoke(ctx context.Context, h features.Handler, u *platform.Update) (consumed bool, err error) {
	ctx, span := d.tracer.StartFeatureSpan(ctx, h.Name())
	defer func() {
		if r := recover(); r != nil {
			consumed = true
			err = chaterr.New(chaterr.ErrCodePanic, fmt.Sprintf("handler %s panicked: %v", h.Name(), r),
				chaterr.WithMetadata("feature", h.Name()),
				chaterr.WithMetadata("stack", string(debug.Stack())))
		}
		d.tracer.EndFeatureSpan(span, consumed, err)
	}()
	return h.Handle(ctx, u)
}

// duplicate records id and reports whether it was already seen. A zero ID
// means the source assigned none and is never a duplicate.
func (d *Dispatcher) duplicate(id int64) bool {
	if id == 0 {
		return false
	}
	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()
	if d.seen.Contains(id) {
		return true
	}
	d.seen.Add(id, struct{}{})
	return false
}
