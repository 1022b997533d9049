package features

import (
	"context"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/chatkit/correlation"
	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
)

var userIDPattern = regexp.MustCompile(`user_id[:\s]+(\d+)`)

// InfoQuery is a lookup sent to the info bot and awaiting its answer.
type InfoQuery struct {
	UserID    int64
	Username  string
	ChatTitle string
}

// InfoQueryConfig configures InfoQueryFeature.
type InfoQueryConfig struct {
	// AdminID receives matched responses.
	AdminID int64

	// Responder is the username of the info bot, without '@'.
	Responder string

	// Timeout is how long a lookup waits for its response.
	Timeout time.Duration
}

// DefaultInfoQueryConfig returns the stock lookup settings. AdminID has no
// default.
func DefaultInfoQueryConfig() InfoQueryConfig {
	return InfoQueryConfig{
		Responder: "ololsbot",
		Timeout:   5 * time.Minute,
	}
}

// InfoQueryFeature relays the info bot's answers about tracked users to the
// admin. Answers about users nobody asked about are ignored.
type InfoQueryFeature struct {
	client  platform.Client
	pending *correlation.Table[InfoQuery]
	config  InfoQueryConfig
	logger  *logging.Logger
}

// NewInfoQueryFeature creates an InfoQueryFeature around pending.
func NewInfoQueryFeature(client platform.Client, pending *correlation.Table[InfoQuery], cfg InfoQueryConfig, logger *logging.Logger) (*InfoQueryFeature, error) {
	if client == nil || pending == nil {
		return nil, chaterr.InvalidInput("info query feature needs client and pending table")
	}
	if cfg.AdminID == 0 || cfg.Responder == "" {
		return nil, chaterr.InvalidInput("info query needs admin id and responder")
	}
	if cfg.Timeout <= 0 {
		return nil, chaterr.InvalidInput("info query timeout must be positive")
	}
	cfg.Responder = strings.TrimPrefix(cfg.Responder, "@")
	return &InfoQueryFeature{
		client:  client,
		pending: pending,
		config:  cfg,
		logger:  logging.OrNop(logger).WithComponent("info_query"),
	}, nil
}

// Name implements Handler.
func (f *InfoQueryFeature) Name() string {
	return "info_query"
}

// Track starts waiting for the info bot's answer about userID. A newer
// Track for the same user replaces the older one.
func (f *InfoQueryFeature) Track(userID int64, username, chatTitle string) {
	f.pending.Register(strconv.FormatInt(userID, 10), InfoQuery{
		UserID:    userID,
		Username:  username,
		ChatTitle: chatTitle,
	}, f.config.Timeout)
	f.logger.Debug("info query tracked", map[string]any{"user_id": userID, "username": username})
}

// Handle implements Handler. It never consumes the update.
func (f *InfoQueryFeature) Handle(ctx context.Context, u *platform.Update) (bool, error) {
	msg := u.Message
	if msg == nil || msg.From == nil || !strings.EqualFold(msg.From.Username, f.config.Responder) {
		return false, nil
	}

	text := msg.Content()
	m := userIDPattern.FindStringSubmatch(text)
	if m == nil {
		f.logger.Debug("responder message without user id")
		return false, nil
	}
	q, ok := f.pending.Resolve(m[1])
	if !ok {
		f.logger.Debug("response for untracked user", map[string]any{"user_id": m[1]})
		return false, nil
	}

	_, err := f.client.Forward(ctx, f.config.AdminID, msg.Chat.ID, msg.MessageID)
	if err == nil {
		f.logger.Info("info response forwarded", map[string]any{"user_id": q.UserID})
		return false, nil
	}
	f.logger.Warn("forward to admin failed", map[string]any{"user_id": q.UserID, "error": err.Error()})
	if text == "" {
		return false, err
	}
	_, err = f.client.SendText(ctx, f.config.AdminID,
		"📨 <b>Response from @"+html.EscapeString(msg.From.Username)+":</b>\n\n"+html.EscapeString(text),
		platform.SendOptions{ParseMode: platform.ParseModeHTML})
	return false, err
}

var _ Handler = (*InfoQueryFeature)(nil)
