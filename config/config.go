// Package config loads the chatkit.toml runtime configuration.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownKeys   = errors.New("unknown configuration keys")
)

// State backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Content backends.
const (
	ContentFile = "file"
	ContentBolt = "bolt"
)

// Duration is a time.Duration written as "5m", "30s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete runtime configuration.
type Config struct {
	Bot       BotConfig       `toml:"bot"`
	Log       LogConfig       `toml:"log"`
	State     StateConfig     `toml:"state"`
	Redis     RedisConfig     `toml:"redis"`
	NATS      NATSConfig      `toml:"nats"`
	Quotes    QuotesConfig    `toml:"quotes"`
	Images    ImagesConfig    `toml:"images"`
	Stickers  StickersConfig  `toml:"stickers"`
	InfoQuery InfoQueryConfig `toml:"info_query"`
	Platform  PlatformConfig  `toml:"platform"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// BotConfig holds dispatcher settings.
type BotConfig struct {
	// AdminID receives relayed info bot responses. Zero disables the relay.
	AdminID int64 `toml:"admin_id"`

	// ResponderUsername is the info bot's username.
	ResponderUsername string `toml:"responder_username"`

	// Workers bounds concurrently handled updates.
	Workers int `toml:"workers"`

	// DedupSize is how many recent update IDs are remembered.
	DedupSize int `toml:"dedup_size"`

	// HandlerTimeout bounds one update.
	HandlerTimeout Duration `toml:"handler_timeout"`

	// SweepInterval is how often correlation tables drop expired entries.
	SweepInterval Duration `toml:"sweep_interval"`

	// Timezone renders dates, e.g. "Europe/Moscow".
	Timezone string `toml:"timezone"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// StateConfig selects the shared state backend.
type StateConfig struct {
	Backend string `toml:"backend"`
}

// RedisConfig holds Redis connection settings. Credentials come from
// credentials.toml.
type RedisConfig struct {
	Addr      string `toml:"addr"`
	DB        int    `toml:"db"`
	Namespace string `toml:"namespace"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL    string `toml:"url"`
	Bucket string `toml:"bucket"`
}

// QuotesConfig configures the quote command.
type QuotesConfig struct {
	File         string   `toml:"file"`
	TextFile     string   `toml:"text_file"`
	Command      string   `toml:"command"`
	MaxUses      int      `toml:"max_uses"`
	Window       Duration `toml:"window"`
	Recent       int      `toml:"recent"`
	SelfDestruct Duration `toml:"self_destruct"`
	CacheTTL     Duration `toml:"cache_ttl"`
}

// ImagesConfig configures image saving and rotation.
type ImagesConfig struct {
	Backend    string   `toml:"backend"`
	Path       string   `toml:"path"`
	Pool       string   `toml:"pool"`
	Trigger    string   `toml:"trigger"`
	ConfirmTTL Duration `toml:"confirm_ttl"`
}

// StickersConfig configures sticker deletion.
type StickersConfig struct {
	Command string `toml:"command"`

	// DB is the bolt file holding sticker quotes.
	DB string `toml:"db"`

	// Sets maps chat IDs to the chat's own sticker set name.
	Sets map[string]string `toml:"sets"`
}

// InfoQueryConfig configures the info bot relay.
type InfoQueryConfig struct {
	Timeout Duration `toml:"timeout"`
}

// PlatformConfig throttles outbound calls.
type PlatformConfig struct {
	SendRate  float64 `toml:"send_rate"`
	SendBurst int     `toml:"send_burst"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr serves /metrics. Empty disables the endpoint.
	Addr      string `toml:"addr"`
	Namespace string `toml:"namespace"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	// Endpoint is the OTLP collector. Empty disables tracing.
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"`
	Insecure bool   `toml:"insecure"`

	// SampleRatio is the fraction of updates traced. Zero traces all.
	SampleRatio float64 `toml:"sample_ratio"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			ResponderUsername: "ololsbot",
			Workers:           16,
			DedupSize:         1024,
			HandlerTimeout:    Duration{30 * time.Second},
			SweepInterval:     Duration{time.Second},
			Timezone:          "Europe/Moscow",
		},
		Log:   LogConfig{Level: "info"},
		State: StateConfig{Backend: BackendMemory},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "chatkit",
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Bucket: "chatkit-state",
		},
		Quotes: QuotesConfig{
			File:         "quotes.json",
			TextFile:     "text-quotes.json",
			Command:      "/retroq",
			MaxUses:      10,
			Window:       Duration{5 * time.Minute},
			Recent:       50,
			SelfDestruct: Duration{5 * time.Second},
			CacheTTL:     Duration{time.Minute},
		},
		Images: ImagesConfig{
			Backend:    ContentFile,
			Path:       "data/rockyball-messages.json",
			Pool:       "rockyball",
			Trigger:    "рокк ебол",
			ConfirmTTL: Duration{30 * time.Second},
		},
		Stickers: StickersConfig{
			Command: "/delsticker",
			DB:      "data/stickers.db",
		},
		InfoQuery: InfoQueryConfig{Timeout: Duration{5 * time.Minute}},
		Platform: PlatformConfig{
			SendRate:  25,
			SendBurst: 5,
		},
		Metrics:   MetricsConfig{Namespace: "chatkit"},
		Telemetry: TelemetryConfig{Protocol: "grpc"},
	}
}

// LoadFile reads path over the defaults and validates the result.
// Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Bot.Workers <= 0 {
		add("bot.workers must be positive")
	}
	if c.Bot.DedupSize <= 0 {
		add("bot.dedup_size must be positive")
	}
	if c.Bot.SweepInterval.Duration <= 0 {
		add("bot.sweep_interval must be positive")
	}
	if _, err := c.Location(); err != nil {
		add("bot.timezone: %v", err)
	}

	switch c.State.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			add("redis.addr required for redis backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" || c.NATS.Bucket == "" {
			add("nats.url and nats.bucket required for nats backend")
		}
	default:
		add("state.backend %q (want memory, redis or nats)", c.State.Backend)
	}

	if c.Quotes.File == "" {
		add("quotes.file required")
	}
	if c.Quotes.MaxUses <= 0 || c.Quotes.Window.Duration <= 0 {
		add("quotes.max_uses and quotes.window must be positive")
	}
	if c.Quotes.Recent <= 0 {
		add("quotes.recent must be positive")
	}

	switch c.Images.Backend {
	case ContentFile, ContentBolt:
	default:
		add("images.backend %q (want file or bolt)", c.Images.Backend)
	}
	if c.Images.Path == "" || c.Images.Pool == "" || strings.TrimSpace(c.Images.Trigger) == "" {
		add("images.path, images.pool and images.trigger required")
	}
	if c.Images.ConfirmTTL.Duration <= 0 {
		add("images.confirm_ttl must be positive")
	}

	if _, err := c.StickerSets(); err != nil {
		add("stickers.sets: %v", err)
	}
	if c.InfoQuery.Timeout.Duration <= 0 {
		add("info_query.timeout must be positive")
	}
	if c.Platform.SendBurst < 0 {
		add("platform.send_burst must not be negative")
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		add("telemetry.protocol %q (want grpc or http)", c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio %v (want 0 to 1)", c.Telemetry.SampleRatio)
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Bot.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Bot.Timezone)
}

// StickerSets parses the chat ID keys of stickers.sets.
func (c *Config) StickerSets() (map[int64]string, error) {
	sets := make(map[int64]string, len(c.Stickers.Sets))
	for k, v := range c.Stickers.Sets {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chat id %q: %w", k, err)
		}
		sets[id] = v
	}
	return sets, nil
}
