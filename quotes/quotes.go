// Package quotes holds the quote payloads features serve and delete.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/chatkit/content"
)

// Quote is one entry of the archived quote book, keyed by its numeric ID.
// Negative IDs came from the IRC era.
type Quote struct {
	Text           string     `json:"text"`
	From           string     `json:"from,omitempty"`
	Time           int64      `json:"time,omitempty"`
	ReplyToMessage *ReplyInfo `json:"reply_to_message,omitempty"`
}

// ReplyInfo is the part of a quoted reply needed to judge accessibility.
// Media fields are only checked for presence.
type ReplyInfo struct {
	Text      string          `json:"text,omitempty"`
	Caption   string          `json:"caption,omitempty"`
	Animation json.RawMessage `json:"animation,omitempty"`
	Document  json.RawMessage `json:"document,omitempty"`
	Photo     json.RawMessage `json:"photo,omitempty"`
	Video     json.RawMessage `json:"video,omitempty"`
	Sticker   json.RawMessage `json:"sticker,omitempty"`
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// mediaOnly reports a reply carrying media and no readable text.
func (r *ReplyInfo) mediaOnly() bool {
	if r == nil {
		return false
	}
	hasMedia := present(r.Animation) || present(r.Document) || present(r.Photo) ||
		present(r.Video) || present(r.Sticker)
	return hasMedia && strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.Caption) == ""
}

// HasAccessibleContent reports whether q can be shown as text: it needs a
// non-blank text and must not be a reply to a media-only message.
func (q Quote) HasAccessibleContent() bool {
	if strings.TrimSpace(q.Text) == "" {
		return false
	}
	return !q.ReplyToMessage.mediaOnly()
}

// Accessible returns the sorted IDs of accessible quotes.
func Accessible(all map[string]Quote) []string {
	return content.Filter(all, func(_ string, q Quote) bool {
		return q.HasAccessibleContent()
	})
}

// Origin names where a quote was saved, from its ID.
func Origin(id string) string {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil && n < 0 {
		return "IRC"
	}
	return "Telegram"
}

var ruMonths = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// FormatDate renders t as "1 марта 2024 г.".
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%d %s %d г.", t.Day(), ruMonths[t.Month()-1], t.Year())
}

// Render builds the HTML reply for quote id.
func Render(id string, q Quote, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Старая цитата #%s</b>\n", html.EscapeString(id))
	fmt.Fprintf(&b, "<i>Цитата из %s</i>\n", Origin(id))
	saver := "<i>кто-то</i>"
	if q.From != "" {
		saver = html.EscapeString(q.From)
	}
	fmt.Fprintf(&b, "<b>Сохранил:</b> %s\n", saver)
	fmt.Fprintf(&b, "<b>Дата:</b> %s\n", FormatDate(time.Unix(q.Time, 0).In(loc)))
	b.WriteString(html.EscapeString(q.Text))
	return b.String()
}

// TextQuote is a quote rendered from a sticker, keyed by an arbitrary ID.
type TextQuote struct {
	Text                string `json:"text"`
	Author              string `json:"author,omitempty"`
	StickerFileUniqueID string `json:"sticker_file_unique_id,omitempty"`
}

// DeleteTextQuotesBySticker removes every text quote made from the sticker.
func DeleteTextQuotesBySticker(ctx context.Context, s content.Store[TextQuote], fileUniqueID string) ([]string, error) {
	if fileUniqueID == "" {
		return nil, nil
	}
	return content.DeleteWhere(ctx, s, func(_ string, q TextQuote) bool {
		return q.StickerFileUniqueID == fileUniqueID
	})
}

// StickerQuote is a quote saved as a sticker in a group's random pool.
type StickerQuote struct {
	ChatID       int64  `json:"chat_id"`
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	SavedBy      int64  `json:"saved_by,omitempty"`
}

// DB is the structured quote database.
type DB interface {
	// DeleteSticker removes the chat's quote made from the sticker and
	// reports whether one existed.
	DeleteSticker(ctx context.Context, chatID int64, fileUniqueID string) (bool, error)
}

// StoreDB implements DB over a content store.
type StoreDB struct {
	Store content.Store[StickerQuote]
}

// DeleteSticker implements DB.
func (d StoreDB) DeleteSticker(ctx context.Context, chatID int64, fileUniqueID string) (bool, error) {
	removed, err := content.DeleteWhere(ctx, d.Store, func(_ string, q StickerQuote) bool {
		return q.ChatID == chatID && q.FileUniqueID == fileUniqueID
	})
	if err != nil {
		return false, err
	}
	return len(removed) > 0, nil
}

var _ DB = StoreDB{}
