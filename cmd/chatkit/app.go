package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/vinayprograms/chatkit/config"
	"github.com/vinayprograms/chatkit/content"
	"github.com/vinayprograms/chatkit/credentials"
	"github.com/vinayprograms/chatkit/features"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/quotes"
	"github.com/vinayprograms/chatkit/state"
)

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	creds  *credentials.Credentials
	logger *logging.Logger
}

func loadApp(opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.New()
	logger.SetOutput(logOut)
	logger.SetLevel(logging.ParseLevel(level))

	creds, path, err := credentials.Load()
	if err != nil {
		return nil, fmt.Errorf("credentials %s: %w", path, err)
	}
	if path != "" {
		logger.Debug("credentials loaded", map[string]any{"path": path})
	}

	return &app{cfg: cfg, creds: creds, logger: logger}, nil
}

// openState connects the configured shared state backend. The returned
// close function releases the store and its connection.
func (a *app) openState(ctx context.Context) (state.Store, func() error, error) {
	switch a.cfg.State.Backend {
	case config.BackendMemory:
		s := state.NewMemoryStore()
		return s, s.Close, nil

	case config.BackendRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{a.cfg.Redis.Addr},
			DB:       a.cfg.Redis.DB,
			Username: a.creds.RedisUsername(),
			Password: a.creds.RedisPassword(),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", a.cfg.Redis.Addr, err)
		}
		s, err := state.NewRedisStore(state.RedisStoreConfig{
			Client:    client,
			Namespace: a.cfg.Redis.Namespace,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() error {
			return errors.Join(s.Close(), client.Close())
		}, nil

	case config.BackendNATS:
		natsOpts := []nats.Option{nats.Name("chatkit")}
		if token := a.creds.NATSToken(); token != "" {
			natsOpts = append(natsOpts, nats.Token(token))
		}
		nc, err := nats.Connect(a.cfg.NATS.URL, natsOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("nats %s: %w", a.cfg.NATS.URL, err)
		}
		cfg := state.DefaultNATSStoreConfig()
		cfg.Conn = nc
		cfg.Bucket = a.cfg.NATS.Bucket
		s, err := state.NewNATSStore(cfg)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return s, func() error {
			return errors.Join(s.Close(), nc.Drain())
		}, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown state backend %q", config.ErrInvalidConfig, a.cfg.State.Backend)
}

// openImages opens the saved image store. The close function is a no-op for
// the JSON file backend.
func (a *app) openImages() (content.Store[features.SavedImage], func() error, error) {
	switch a.cfg.Images.Backend {
	case config.ContentBolt:
		db, err := content.OpenBolt(a.cfg.Images.Path)
		if err != nil {
			return nil, nil, err
		}
		s, err := content.NewBoltStore[features.SavedImage](db, "images")
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil

	default:
		s, err := content.NewFileStore[features.SavedImage](content.FileStoreConfig{Path: a.cfg.Images.Path})
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	}
}

// openQuotes opens the quote book behind a short-lived cache.
func (a *app) openQuotes() (content.Store[quotes.Quote], error) {
	file, err := content.NewFileStore[quotes.Quote](content.FileStoreConfig{
		Path:     a.cfg.Quotes.File,
		Required: true,
	})
	if err != nil {
		return nil, err
	}
	if a.cfg.Quotes.CacheTTL.Duration <= 0 {
		return file, nil
	}
	return content.NewCached[quotes.Quote](file, a.cfg.Quotes.CacheTTL.Duration), nil
}
