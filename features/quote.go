package features

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vinayprograms/chatkit/content"
	"github.com/vinayprograms/chatkit/correlation"
	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/quotes"
	"github.com/vinayprograms/chatkit/ratelimit"
	"github.com/vinayprograms/chatkit/recency"
)

// Quote replies.
const (
	msgQuotesMissing    = "Ошибка: цитатник не найден."
	msgQuotesCorrupt    = "Ошибка парсинга файла цитатника."
	msgQuotesUnreadable = "Ошибка чтения файла цитатника."
	msgQuotesFailed     = "Ошибка обращения к цитатнику."
	msgQuotesEmpty      = "Цитат не найдено!"
	msgQuotesNoText     = "Нет доступных цитат с текстом!"
	msgQuotesRateLimit  = "⏳ <i>Слишком много запросов! Подождите %s перед следующим использованием команды.</i>"
)

// QuoteConfig configures QuoteFeature.
type QuoteConfig struct {
	// Command triggers a quote, e.g. "/retroq".
	Command string

	// SelfDestruct is how long the rate limit notice stays visible.
	SelfDestruct time.Duration

	// Location renders quote dates.
	Location *time.Location
}

// DefaultQuoteConfig returns the stock quote settings.
func DefaultQuoteConfig() QuoteConfig {
	return QuoteConfig{
		Command:      "/retroq",
		SelfDestruct: 5 * time.Second,
		Location:     time.UTC,
	}
}

// QuoteDeps are the collaborators of QuoteFeature.
type QuoteDeps struct {
	Client  platform.Client
	Quotes  content.Store[quotes.Quote]
	Limiter *ratelimit.WindowLimiter
	Recent  *recency.Filter

	// Cleanup deletes rate limit notices. Optional.
	Cleanup *correlation.Table[Cleanup]

	Logger *logging.Logger
}

// QuoteFeature serves a random archived quote per command, rate limited per
// user and without repeating the chat's recent quotes.
type QuoteFeature struct {
	client  platform.Client
	quotes  content.Store[quotes.Quote]
	limiter *ratelimit.WindowLimiter
	recent  *recency.Filter
	cleanup *correlation.Table[Cleanup]
	config  QuoteConfig
	logger  *logging.Logger
}

// NewQuoteFeature creates a QuoteFeature.
func NewQuoteFeature(deps QuoteDeps, cfg QuoteConfig) (*QuoteFeature, error) {
	if deps.Client == nil || deps.Quotes == nil || deps.Limiter == nil || deps.Recent == nil {
		return nil, chaterr.InvalidInput("quote feature needs client, quotes, limiter and recency filter")
	}
	if cfg.Command == "" {
		return nil, chaterr.InvalidInput("quote command required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &QuoteFeature{
		client:  deps.Client,
		quotes:  deps.Quotes,
		limiter: deps.Limiter,
		recent:  deps.Recent,
		cleanup: deps.Cleanup,
		config:  cfg,
		logger:  logging.OrNop(deps.Logger).WithComponent("quote"),
	}, nil
}

// Name implements Handler.
func (f *QuoteFeature) Name() string {
	return "quote"
}

// Handle implements Handler.
func (f *QuoteFeature) Handle(ctx context.Context, u *platform.Update) (bool, error) {
	msg := u.Message
	if msg == nil || !matchCommand(msg.Text, f.config.Command) {
		return false, nil
	}
	if msg.From == nil {
		f.logger.Warn("quote command without sender", map[string]any{"chat_id": msg.Chat.ID})
		return true, nil
	}

	d := f.limiter.Check(ctx, strconv.FormatInt(msg.From.ID, 10))
	if !d.Allowed {
		return true, f.denied(ctx, msg, d)
	}

	if err := f.client.SendChatAction(ctx, msg.Chat.ID, "typing"); err != nil {
		f.logger.Debug("chat action failed", map[string]any{"error": err.Error()})
	}

	all, err := f.quotes.GetAll(ctx)
	if err != nil {
		_, _ = replyTo(ctx, f.client, msg, loadFailure(err), platform.ParseModeHTML)
		return true, err
	}
	if len(all) == 0 {
		_, err := replyTo(ctx, f.client, msg, msgQuotesEmpty, platform.ParseModeHTML)
		return true, err
	}

	ids := quotes.Accessible(all)
	scope := strconv.FormatInt(msg.Chat.ID, 10)
	id, ok := f.recent.Pick(scope, ids)
	if !ok {
		_, err := replyTo(ctx, f.client, msg, msgQuotesNoText, platform.ParseModeHTML)
		return true, err
	}

	_, err = replyTo(ctx, f.client, msg, quotes.Render(id, all[id], f.config.Location), platform.ParseModeHTML)
	return true, err
}

// denied tells the user how long to wait and schedules both messages for
// deletion.
func (f *QuoteFeature) denied(ctx context.Context, msg *platform.Message, d ratelimit.Decision) error {
	text := fmt.Sprintf(msgQuotesRateLimit, formatWait(d.RemainingSeconds()))
	sent, err := replyTo(ctx, f.client, msg, text, platform.ParseModeHTML)
	if err != nil {
		return err
	}
	if f.cleanup == nil || sent == nil {
		return nil
	}
	f.cleanup.Register(messageKey(msg.Chat.ID, sent.MessageID), Cleanup{
		ChatID:     msg.Chat.ID,
		MessageIDs: []int64{msg.MessageID, sent.MessageID},
	}, f.config.SelfDestruct)
	return nil
}

// formatWait renders seconds as "N мин. M сек." or "M сек.".
func formatWait(seconds int) string {
	m, s := seconds/60, seconds%60
	if m > 0 {
		return fmt.Sprintf("%d мин. %d сек.", m, s)
	}
	return fmt.Sprintf("%d сек.", s)
}

func loadFailure(err error) string {
	switch {
	case chaterr.Is(err, chaterr.ErrCodeNotFound):
		return msgQuotesMissing
	case chaterr.Is(err, chaterr.ErrCodeCorruptState):
		return msgQuotesCorrupt
	case chaterr.Is(err, chaterr.ErrCodeStorageUnavailable):
		return msgQuotesUnreadable
	default:
		return msgQuotesFailed
	}
}

var _ Handler = (*QuoteFeature)(nil)
