package features

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/chatkit/content"
	"github.com/vinayprograms/chatkit/platform"
	"github.com/vinayprograms/chatkit/quotes"
)

type stickerFixture struct {
	rec        *platform.Recorder
	feature    *StickerDeleteFeature
	textQuotes content.Store[quotes.TextQuote]
	stickers   content.Store[quotes.StickerQuote]
}

func newStickerFixture(t *testing.T) *stickerFixture {
	t.Helper()
	dir := t.TempDir()
	textQuotes, err := content.NewFileStore[quotes.TextQuote](content.FileStoreConfig{Path: filepath.Join(dir, "text-quotes.json")})
	require.NoError(t, err)
	stickers, err := content.NewFileStore[quotes.StickerQuote](content.FileStoreConfig{Path: filepath.Join(dir, "sticker-quotes.json")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, textQuotes.Put(ctx, "t1", quotes.TextQuote{Text: "from set", StickerFileUniqueID: "U-SET"}))
	require.NoError(t, textQuotes.Put(ctx, "t2", quotes.TextQuote{Text: "from db", StickerFileUniqueID: "U-DB"}))
	require.NoError(t, textQuotes.Put(ctx, "t3", quotes.TextQuote{Text: "plain"}))
	require.NoError(t, stickers.Put(ctx, "s1", quotes.StickerQuote{ChatID: -1, FileUniqueID: "U-DB", FileID: "F-DB"}))

	rec, client := newRecorderClient()
	f, err := NewStickerDeleteFeature(StickerDeleteDeps{
		Client:     client,
		TextQuotes: textQuotes,
		QuoteDB:    quotes.StoreDB{Store: stickers},
		Sets:       StickerSets(map[int64]string{-1: "chat_pack"}),
	}, "/delsticker")
	require.NoError(t, err)
	return &stickerFixture{rec: rec, feature: f, textQuotes: textQuotes, stickers: stickers}
}

func stickerReply(chatID int64, sticker *platform.Sticker) *platform.Update {
	u := textUpdate(chatID, 50, 7, "/delsticker")
	u.Message.ReplyToMessage = &platform.Message{MessageID: 49, Chat: platform.Chat{ID: chatID}, Sticker: sticker}
	return u
}

func (fx *stickerFixture) textQuoteIDs(t *testing.T) []string {
	t.Helper()
	all, err := fx.textQuotes.GetAll(context.Background())
	require.NoError(t, err)
	return content.IDs(all)
}

func (fx *stickerFixture) lastReply(t *testing.T) string {
	t.Helper()
	sends := fx.rec.Method(platform.MethodSendMessage)
	require.NotEmpty(t, sends)
	return sends[len(sends)-1].Text
}

func TestStickerDelete_RequiresStickerReply(t *testing.T) {
	fx := newStickerFixture(t)

	handled, err := fx.feature.Handle(context.Background(), textUpdate(-1, 1, 7, "/delsticker"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, msgStickerNoReply, fx.lastReply(t))

	u := textUpdate(-1, 2, 7, "/delsticker")
	u.Message.ReplyToMessage = &platform.Message{MessageID: 1, Text: "not a sticker"}
	_, err = fx.feature.Handle(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, msgStickerNoReply, fx.lastReply(t))
}

func TestStickerDelete_IgnoresOtherText(t *testing.T) {
	fx := newStickerFixture(t)
	handled, err := fx.feature.Handle(context.Background(), textUpdate(-1, 1, 7, "/retroq"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestStickerDelete_FromGroupSet(t *testing.T) {
	fx := newStickerFixture(t)

	_, err := fx.feature.Handle(context.Background(), stickerReply(-1, &platform.Sticker{
		FileID: "F-SET", FileUniqueID: "U-SET", SetName: "chat_pack",
	}))
	require.NoError(t, err)

	calls := fx.rec.Method(platform.MethodDeleteStickerFromSet)
	require.Len(t, calls, 1)
	assert.Equal(t, "F-SET", calls[0].FileID)
	assert.Equal(t, []string{"t2", "t3"}, fx.textQuoteIDs(t))
	assert.Contains(t, fx.lastReply(t), "https://t.me/addstickers/chat_pack")
}

func TestStickerDelete_SetFailureReasons(t *testing.T) {
	tests := []struct {
		desc string
		want string
	}{
		{"Bad Request: STICKER not found", msgStickerNotFound},
		{"Bad Request: not enough rights", msgStickerNoRights},
		{"Bad Request: bot is not an administrator", msgStickerNoRights},
		{"Bad Request: <weird>", "ошибка Telegram (bad request: &lt;weird&gt;)."},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			fx := newStickerFixture(t)
			boom := errors.New(tt.desc)
			fx.rec.FailOn(platform.MethodDeleteStickerFromSet, boom)

			_, err := fx.feature.Handle(context.Background(), stickerReply(-1, &platform.Sticker{
				FileID: "F-SET", FileUniqueID: "U-SET", SetName: "chat_pack",
			}))
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, "Не удалось удалить стикер: "+tt.want, fx.lastReply(t))
			assert.Len(t, fx.textQuoteIDs(t), 3, "text quotes stay when the set delete fails")
		})
	}
}

func TestStickerDelete_FromQuoteDB(t *testing.T) {
	fx := newStickerFixture(t)
	ctx := context.Background()

	// A sticker from another set goes through the quote database.
	_, err := fx.feature.Handle(ctx, stickerReply(-1, &platform.Sticker{
		FileID: "F-DB", FileUniqueID: "U-DB", SetName: "someone_else",
	}))
	require.NoError(t, err)
	assert.Equal(t, msgStickerQuoteDeleted, fx.lastReply(t))
	assert.Empty(t, fx.rec.Method(platform.MethodDeleteStickerFromSet))
	assert.Equal(t, []string{"t1", "t3"}, fx.textQuoteIDs(t))

	all, err := fx.stickers.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = fx.feature.Handle(ctx, stickerReply(-1, &platform.Sticker{FileID: "F-DB", FileUniqueID: "U-DB"}))
	require.NoError(t, err)
	assert.Equal(t, msgStickerQuoteNotFound, fx.lastReply(t))
}

func TestStickerDelete_OtherChatHasNoSet(t *testing.T) {
	fx := newStickerFixture(t)
	_, err := fx.feature.Handle(context.Background(), stickerReply(-2, &platform.Sticker{
		FileID: "F-SET", FileUniqueID: "U-SET", SetName: "chat_pack",
	}))
	require.NoError(t, err)
	assert.Empty(t, fx.rec.Method(platform.MethodDeleteStickerFromSet))
	assert.Equal(t, msgStickerQuoteNotFound, fx.lastReply(t))
}

type brokenDB struct{}

func (brokenDB) DeleteSticker(context.Context, int64, string) (bool, error) {
	return false, errors.New("db down")
}

func TestStickerDelete_DBFailure(t *testing.T) {
	fx := newStickerFixture(t)
	fx.feature.db = brokenDB{}
	_, err := fx.feature.Handle(context.Background(), stickerReply(-1, &platform.Sticker{FileUniqueID: "U-DB"}))
	assert.Error(t, err)
	assert.Equal(t, msgStickerQuoteFailed, fx.lastReply(t))
}
