// Package features implements the bot's chat behaviors on top of the
// rotation, recency, rate limiting and correlation primitives.
//
// Every feature is a Handler. The dispatcher offers an update to each
// handler in order and stops at the first one that consumes it.
package features

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/chatkit/correlation"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
)

// Handler handles inbound updates.
type Handler interface {
	// Name labels the handler in logs, spans and metrics.
	Name() string

	// Handle processes u and reports whether it consumed it. Handlers answer
	// the user themselves; a returned error is for logging and metrics.
	Handle(ctx context.Context, u *platform.Update) (bool, error)
}

// cleanupTimeout bounds message deletion from expiry hooks, which run
// outside any request context.
const cleanupTimeout = 10 * time.Second

// Cleanup names messages to delete once its correlation entry expires.
type Cleanup struct {
	ChatID     int64
	MessageIDs []int64
}

// NewCleanupTable creates a table whose expired entries delete their
// messages through client. Run it with Table.Run for timely deletion.
func NewCleanupTable(client platform.Client, logger *logging.Logger, opts ...correlation.Option[Cleanup]) *correlation.Table[Cleanup] {
	logger = logging.OrNop(logger).WithComponent("cleanup")
	base := []correlation.Option[Cleanup]{
		correlation.WithName[Cleanup]("cleanup"),
		correlation.WithLogger[Cleanup](logger),
		correlation.WithOnExpire(func(e correlation.Entry[Cleanup]) {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			for _, id := range e.Context.MessageIDs {
				deleteQuietly(ctx, client, logger, e.Context.ChatID, id)
			}
		}),
	}
	return correlation.New(append(base, opts...)...)
}

// messageKey identifies a message across chats.
func messageKey(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// matchCommand reports whether text invokes command, with or without a
// "@botname" suffix.
func matchCommand(text, command string) bool {
	if command == "" {
		return false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	head, _, _ := strings.Cut(fields[0], "@")
	return strings.EqualFold(head, command)
}

// replyTo answers msg in its chat.
func replyTo(ctx context.Context, c platform.Client, msg *platform.Message, text, parseMode string) (*platform.Message, error) {
	return c.SendText(ctx, msg.Chat.ID, text, platform.SendOptions{
		ReplyTo:   msg.MessageID,
		ParseMode: parseMode,
	})
}

// deleteQuietly deletes a message, logging failures.
func deleteQuietly(ctx context.Context, c platform.Client, logger *logging.Logger, chatID, messageID int64) {
	if err := c.Delete(ctx, chatID, messageID); err != nil {
		logger.Debug("message delete failed", map[string]any{
			"chat_id":    chatID,
			"message_id": messageID,
			"error":      err.Error(),
		})
	}
}

// mention renders a user for a plain-text message.
func mention(u *platform.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}
