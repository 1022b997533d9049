package features

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/vinayprograms/chatkit/content"
	chaterr "github.com/vinayprograms/chatkit/errors"
	"github.com/vinayprograms/chatkit/logging"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/quotes"
)

// Sticker replies.
const (
	msgStickerNoReply       = "Ответь этой командой на стикер, который нужно удалить."
	msgStickerDeleted       = `Стикер удалён из <a href="https://t.me/addstickers/%s">набора</a>.`
	msgStickerFailed        = "Не удалось удалить стикер: %s"
	msgStickerNotFound      = "стикер не найден в наборе."
	msgStickerNoRights      = "у бота нет прав на этот набор."
	msgStickerGeneric       = "ошибка Telegram (%s)."
	msgStickerQuoteDeleted  = "Цитата удалена."
	msgStickerQuoteNotFound = "Такой цитаты нет в базе."
	msgStickerQuoteFailed   = "Не удалось удалить цитату: ошибка базы данных."
)

// StickerSetFunc returns the chat's own sticker set name, or "".
type StickerSetFunc func(chatID int64) string

// StickerSets adapts a static chat to set name map.
func StickerSets(sets map[int64]string) StickerSetFunc {
	return func(chatID int64) string {
		return sets[chatID]
	}
}

// StickerDeleteDeps are the collaborators of StickerDeleteFeature.
type StickerDeleteDeps struct {
	Client     platform.Client
	TextQuotes content.Store[quotes.TextQuote]
	QuoteDB    quotes.DB
	Sets       StickerSetFunc
	Logger     *logging.Logger
}

// StickerDeleteFeature deletes a sticker quote in reply to a command. Group
// set stickers are removed from the set; others from the quote database.
// Text quotes made from the sticker go in both cases.
type StickerDeleteFeature struct {
	client     platform.Client
	textQuotes content.Store[quotes.TextQuote]
	db         quotes.DB
	sets       StickerSetFunc
	command    string
	logger     *logging.Logger
}

// NewStickerDeleteFeature creates a StickerDeleteFeature for command.
func NewStickerDeleteFeature(deps StickerDeleteDeps, command string) (*StickerDeleteFeature, error) {
	if deps.Client == nil || deps.TextQuotes == nil || deps.QuoteDB == nil {
		return nil, chaterr.InvalidInput("sticker feature needs client, text quotes and quote db")
	}
	if command == "" {
		return nil, chaterr.InvalidInput("sticker delete command required")
	}
	if deps.Sets == nil {
		deps.Sets = func(int64) string { return "" }
	}
	return &StickerDeleteFeature{
		client:     deps.Client,
		textQuotes: deps.TextQuotes,
		db:         deps.QuoteDB,
		sets:       deps.Sets,
		command:    command,
		logger:     logging.OrNop(deps.Logger).WithComponent("sticker"),
	}, nil
}

// Name implements Handler.
func (f *StickerDeleteFeature) Name() string {
	return "sticker_delete"
}

// Handle implements Handler.
func (f *StickerDeleteFeature) Handle(ctx context.Context, u *platform.Update) (bool, error) {
	msg := u.Message
	if msg == nil || !matchCommand(msg.Text, f.command) {
		return false, nil
	}
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.Sticker == nil {
		_, err := replyTo(ctx, f.client, msg, msgStickerNoReply, platform.ParseModeHTML)
		return true, err
	}
	sticker := msg.ReplyToMessage.Sticker

	if set := f.sets(msg.Chat.ID); set != "" && sticker.SetName == set {
		return true, f.deleteFromSet(ctx, msg, sticker, set)
	}
	return true, f.deleteFromDB(ctx, msg, sticker)
}

func (f *StickerDeleteFeature) deleteFromSet(ctx context.Context, msg *platform.Message, sticker *platform.Sticker, set string) error {
	if err := f.client.DeleteStickerFromSet(ctx, sticker.FileID); err != nil {
		text := fmt.Sprintf(msgStickerFailed, stickerFailureReason(err))
		_, _ = replyTo(ctx, f.client, msg, text, platform.ParseModeHTML)
		return err
	}
	f.dropTextQuotes(ctx, sticker.FileUniqueID)
	text := fmt.Sprintf(msgStickerDeleted, html.EscapeString(set))
	_, err := replyTo(ctx, f.client, msg, text, platform.ParseModeHTML)
	return err
}

func (f *StickerDeleteFeature) deleteFromDB(ctx context.Context, msg *platform.Message, sticker *platform.Sticker) error {
	deleted, err := f.db.DeleteSticker(ctx, msg.Chat.ID, sticker.FileUniqueID)
	if err != nil {
		_, _ = replyTo(ctx, f.client, msg, msgStickerQuoteFailed, platform.ParseModeHTML)
		return err
	}
	if !deleted {
		_, err := replyTo(ctx, f.client, msg, msgStickerQuoteNotFound, platform.ParseModeHTML)
		return err
	}
	f.dropTextQuotes(ctx, sticker.FileUniqueID)
	_, err = replyTo(ctx, f.client, msg, msgStickerQuoteDeleted, platform.ParseModeHTML)
	return err
}

func (f *StickerDeleteFeature) dropTextQuotes(ctx context.Context, fileUniqueID string) {
	removed, err := quotes.DeleteTextQuotesBySticker(ctx, f.textQuotes, fileUniqueID)
	if err != nil {
		f.logger.Warn("text quote cleanup failed", map[string]any{"sticker": fileUniqueID, "error": err.Error()})
		return
	}
	if len(removed) > 0 {
		f.logger.Info("text quotes removed", map[string]any{"sticker": fileUniqueID, "ids": removed})
	}
}

// stickerFailureReason classifies a platform error for the user.
func stickerFailureReason(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return msgStickerNotFound
	case strings.Contains(msg, "rights"), strings.Contains(msg, "administrator"):
		return msgStickerNoRights
	default:
		return fmt.Sprintf(msgStickerGeneric, html.EscapeString(msg))
	}
}

var _ Handler = (*StickerDeleteFeature)(nil)
