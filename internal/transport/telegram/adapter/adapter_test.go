package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"offerbot/internal/content"
	kit "offerbot/internal/transport"
	logx "offerbot/pkg/logx"
)

func TestContentFromTele(t *testing.T) {
	bold := tele.Entities{{Type: tele.EntityBold, Offset: 0, Length: 4}}

	cases := []struct {
		name string
		msg  *tele.Message
		want content.Item
	}{
		{
			name: "text",
			msg:  &tele.Message{Text: "hello", Entities: bold},
			want: content.Text{Body: "hello", Entities: []content.Entity{{Type: "bold", Length: 4}}},
		},
		{
			name: "photo",
			msg: &tele.Message{
				Photo:           &tele.Photo{File: tele.File{FileID: "p1", UniqueID: "u1"}},
				Caption:         "look",
				CaptionEntities: bold,
			},
			want: content.Photo{Media: content.Media{FileID: "p1", UniqueID: "u1", Caption: "look", Entities: []content.Entity{{Type: "bold", Length: 4}}}},
		},
		{
			name: "document keeps file name",
			msg:  &tele.Message{Document: &tele.Document{File: tele.File{FileID: "d"}, FileName: "offer.pdf"}},
			want: content.Document{Media: content.Media{FileID: "d", FileName: "offer.pdf"}},
		},
		{
			name: "video note drops caption",
			msg:  &tele.Message{VideoNote: &tele.VideoNote{File: tele.File{FileID: "vn"}}, Caption: "x"},
			want: content.VideoNote{Media: content.Media{FileID: "vn"}},
		},
		{
			name: "voice",
			msg:  &tele.Message{Voice: &tele.Voice{File: tele.File{FileID: "v"}}},
			want: content.Voice{Media: content.Media{FileID: "v"}},
		},
		{
			name: "sticker",
			msg:  &tele.Message{Sticker: &tele.Sticker{File: tele.File{FileID: "s"}}},
			want: content.Unsupported{Reason: "sticker"},
		},
		{
			name: "animation wins over document",
			msg: &tele.Message{
				Animation: &tele.Animation{File: tele.File{FileID: "a"}},
				Document:  &tele.Document{File: tele.File{FileID: "a"}},
			},
			want: content.Unsupported{Reason: "animation"},
		},
		{
			name: "empty",
			msg:  &tele.Message{},
			want: content.Unsupported{Reason: "unknown"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, contentFromTele(tc.msg))
		})
	}
}

func TestMessageFromTele(t *testing.T) {
	m := &tele.Message{
		ID:       9,
		Text:     "/start",
		AlbumID:  "alb",
		Unixtime: 1700000000,
		Sender:   &tele.User{ID: 42, Username: "ann", FirstName: "Ann"},
		Chat:     &tele.Chat{ID: 42, Type: tele.ChatPrivate},
	}
	got := messageFromTele(m)
	assert.Equal(t, int64(42), got.ChatID)
	assert.Equal(t, "@ann", got.From.DisplayName())
	assert.False(t, got.IsGroup)
	assert.Equal(t, "alb", got.AlbumID)
	assert.Equal(t, time.Unix(1700000000, 0), got.Date)
	assert.Equal(t, content.Text{Body: "/start"}, got.Content)
}

func TestEntitiesRoundTrip(t *testing.T) {
	in := []content.Entity{{Type: "text_link", Offset: 1, Length: 2, URL: "https://x.io"}, {Type: "custom_emoji", CustomEmojiID: "77"}}
	out := entitiesToTele(in)
	require.Len(t, out, 2)
	assert.Equal(t, "77", out[1].CustomEmojiID)
	assert.Equal(t, tele.EntityType("custom_emoji"), out[1].Type)
	assert.Equal(t, in, entitiesFromTele(out))
	assert.Nil(t, entitiesToTele(nil))
}

func TestSendableUsesUploadWhenPresent(t *testing.T) {
	it := content.Document{Media: content.Media{FileID: "src", Upload: &content.Upload{Name: "a.pdf", Data: []byte("pdf")}}}
	v, ok := sendable(it)
	require.True(t, ok)
	doc := v.(*tele.Document)
	assert.Empty(t, doc.FileID)
	assert.NotNil(t, doc.FileReader)
	assert.Equal(t, "a.pdf", doc.FileName)

	v, ok = sendable(content.Photo{Media: content.Media{FileID: "p", Caption: "c"}})
	require.True(t, ok)
	assert.Equal(t, "p", v.(*tele.Photo).FileID)
	assert.Equal(t, "c", v.(*tele.Photo).Caption)

	_, ok = sendable(content.Unsupported{Reason: "sticker"})
	assert.False(t, ok)
}

func TestMarkup(t *testing.T) {
	rm := replyMarkup(&kit.SendOptions{Inline: [][]kit.Button{{
		{Text: "open", WebApp: "https://app.example"},
		{Text: "go", URL: "https://x.io"},
		{Text: "yes", Data: "bc:start"},
	}}})
	require.NotNil(t, rm)
	row := rm.InlineKeyboard[0]
	require.NotNil(t, row[0].WebApp)
	assert.Equal(t, "https://app.example", row[0].WebApp.URL)
	assert.Equal(t, "https://x.io", row[1].URL)
	assert.Equal(t, "bc:start", row[2].Data)

	rm = replyMarkup(&kit.SendOptions{ReplyKeyboard: [][]string{{"✨ Создать рассылку"}}})
	require.NotNil(t, rm)
	assert.True(t, rm.ResizeKeyboard)
	assert.Equal(t, "✨ Создать рассылку", rm.ReplyKeyboard[0][0].Text)

	assert.True(t, replyMarkup(&kit.SendOptions{RemoveKeyboard: true}).RemoveKeyboard)
	assert.Nil(t, replyMarkup(nil))
	assert.Nil(t, controlMarkup(nil))

	ctl := controlMarkup(&content.Control{Label: "Buy", URL: "https://shop.example"})
	assert.Equal(t, "https://shop.example", ctl.InlineKeyboard[0][0].URL)
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	var ke *kit.Error
	err := mapError(fmt.Errorf("send: %w", &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}))
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, kit.ClassForbidden, ke.Class)

	err = mapError(errors.New("telegram: Bad Request: chat not found (400)"))
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, kit.ClassBadRequest, ke.Class)
	assert.Equal(t, "Bad Request: chat not found", ke.Description)

	err = mapError(tele.FloodError{RetryAfter: 7})
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, kit.ClassFloodWait, ke.Class)
	assert.Equal(t, 7*time.Second, ke.RetryAfter)

	err = mapError(errors.New("telegram: something odd (502)"))
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, kit.ClassAPIError, ke.Class)

	plain := context.DeadlineExceeded
	assert.Equal(t, plain, mapError(plain))
}

func TestSplitTelegramText(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitTelegramText("short", 10, ""))
	assert.Equal(t, []string{""}, splitTelegramText("", 10, ""))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, splitTelegramText(long, 10, ""))

	html := "abcdef<b>bold</b>"
	parts := splitTelegramText(html, 8, "HTML")
	assert.Equal(t, "abcdef", parts[0])
	assert.Equal(t, html, strings.Join(parts, ""))
}

func TestNewOffline(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)

	a, err := New(Config{Name: "user", Token: "123:abc", Offline: true}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, "user", a.Name())
	require.NoError(t, a.Stop(context.Background()))
}
