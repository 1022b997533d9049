package quotes

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/chatkit/content"
)

func TestQuote_HasAccessibleContent(t *testing.T) {
	tests := []struct {
		name string
		json string
		want bool
	}{
		{"plain text", `{"text":"hello"}`, true},
		{"blank text", `{"text":"   "}`, false},
		{"missing text", `{"from":"bob"}`, false},
		{"reply to text", `{"text":"lol","reply_to_message":{"text":"original"}}`, true},
		{"reply to captioned photo", `{"text":"lol","reply_to_message":{"photo":[{"file_id":"x"}],"caption":"look"}}`, true},
		{"reply to bare photo", `{"text":"lol","reply_to_message":{"photo":[{"file_id":"x"}]}}`, false},
		{"reply to bare sticker", `{"text":"lol","reply_to_message":{"sticker":{"file_id":"x"}}}`, false},
		{"reply with null media", `{"text":"lol","reply_to_message":{"photo":null}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var q Quote
			require.NoError(t, json.Unmarshal([]byte(tt.json), &q))
			assert.Equal(t, tt.want, q.HasAccessibleContent())
		})
	}
}

func TestAccessible(t *testing.T) {
	all := map[string]Quote{
		"3":  {Text: "c"},
		"1":  {Text: "a"},
		"2":  {Text: ""},
		"-4": {Text: "irc"},
	}
	assert.Equal(t, []string{"-4", "1", "3"}, Accessible(all))
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "IRC", Origin("-12"))
	assert.Equal(t, "Telegram", Origin("12"))
	assert.Equal(t, "Telegram", Origin("abc"))
}

func TestRender(t *testing.T) {
	q := Quote{
		Text: "<script> & co",
		From: "Bob <b>",
		Time: time.Date(2011, 3, 5, 12, 0, 0, 0, time.UTC).Unix(),
	}
	got := Render("-7", q, time.UTC)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "<b>Старая цитата #-7</b>", lines[0])
	assert.Equal(t, "<i>Цитата из IRC</i>", lines[1])
	assert.Equal(t, "<b>Сохранил:</b> Bob &lt;b&gt;", lines[2])
	assert.Equal(t, "<b>Дата:</b> 5 марта 2011 г.", lines[3])
	assert.Equal(t, "&lt;script&gt; &amp; co", lines[4])

	anon := Render("3", Quote{Text: "x"}, nil)
	assert.Contains(t, anon, "<i>кто-то</i>")
	assert.Contains(t, anon, "Telegram")
}

func TestDeleteTextQuotesBySticker(t *testing.T) {
	s, err := content.NewFileStore[TextQuote](content.FileStoreConfig{Path: filepath.Join(t.TempDir(), "text-quotes.json")})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", TextQuote{Text: "x", StickerFileUniqueID: "U1"}))
	require.NoError(t, s.Put(ctx, "b", TextQuote{Text: "y", StickerFileUniqueID: "U2"}))

	removed, err := DeleteTextQuotesBySticker(ctx, s, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removed)

	removed, err = DeleteTextQuotesBySticker(ctx, s, "")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestStoreDB_DeleteSticker(t *testing.T) {
	db, err := content.OpenBolt(filepath.Join(t.TempDir(), "quotes.db"))
	require.NoError(t, err)
	defer db.Close()
	store, err := content.NewBoltStore[StickerQuote](db, "sticker_quotes")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "1", StickerQuote{ChatID: -100, FileUniqueID: "U1"}))
	require.NoError(t, store.Put(ctx, "2", StickerQuote{ChatID: -200, FileUniqueID: "U1"}))

	qdb := StoreDB{Store: store}
	ok, err := qdb.DeleteSticker(ctx, -100, "U1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = qdb.DeleteSticker(ctx, -100, "U1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, still, err := store.Get(ctx, "2")
	require.NoError(t, err)
	assert.True(t, still, "other chats keep their quote")
}
