package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/broadcast"
	"offerbot/internal/content"
	"offerbot/internal/storage"
	kit "offerbot/internal/transport"
)

const opID = int64(500)

type sent struct {
	chat kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeUI struct {
	mu      sync.Mutex
	nextID  int
	texts   []sent
	edits   []string
	deleted []kit.MessageRef
}

func (u *fakeUI) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	u.texts = append(u.texts, sent{chat: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: u.nextID}, nil
}

func (u *fakeUI) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.edits = append(u.edits, text)
	return nil
}

func (u *fakeUI) Delete(_ context.Context, ref kit.MessageRef) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deleted = append(u.deleted, ref)
	return nil
}

func (u *fakeUI) last() sent {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.texts) == 0 {
		return sent{}
	}
	return u.texts[len(u.texts)-1]
}

func (u *fakeUI) allTexts() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.texts))
	for _, s := range u.texts {
		out = append(out, s.text)
	}
	return out
}

type delivery struct {
	chatID int64
	item   content.Item
	ctl    *content.Control
}

type fakeBot struct {
	mu    sync.Mutex
	sends []delivery
	// block, when set, is called before each send returns.
	block func(chatID int64)
}

func (b *fakeBot) SendContent(_ context.Context, chatID int64, it content.Item, ctl *content.Control) (kit.Delivered, error) {
	if b.block != nil {
		b.block(chatID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, delivery{chatID: chatID, item: it, ctl: ctl})
	return kit.Delivered{Ref: kit.MessageRef{ChatID: chatID, MessageID: len(b.sends)}, Content: it}, nil
}

func (b *fakeBot) CopyContent(context.Context, int64, kit.MessageRef, *content.Control) error {
	return errors.New("not used")
}

func (b *fakeBot) FetchFile(context.Context, string, int64) ([]byte, error) {
	return []byte("data"), nil
}

func (b *fakeBot) deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.sends...)
}

type harness struct {
	c       *Composer
	ui      *fakeUI
	preview *fakeBot
	sender  *fakeBot
	store   *storage.Memory
	clock   *clockwork.FakeClock
}

func newHarness(t *testing.T, recipients int, settings Settings, relay bool) *harness {
	t.Helper()
	h := &harness{
		ui:      &fakeUI{},
		preview: &fakeBot{},
		sender:  &fakeBot{},
		store:   storage.NewMemory(0),
		clock:   clockwork.NewFakeClock(),
	}
	for i := 1; i <= recipients; i++ {
		_, err := h.store.AddClient(context.Background(), storage.Client{UserID: int64(i)})
		require.NoError(t, err)
	}
	lim := broadcast.NewLimiter(4)
	opts := []broadcast.Option{broadcast.WithOptions(broadcast.Options{ChunkSize: 1, Delivery: broadcast.DeliveryResend})}
	if relay {
		opts = append(opts, broadcast.WithRelay(broadcast.NewRelay(h.preview, h.sender, opID, lim)))
	}
	h.c = New(Deps{
		UI:         h.ui,
		Preview:    h.preview,
		Sender:     h.sender,
		Dispatcher: broadcast.NewDispatcher(lim, opts...),
		Recipients: h.store,
		Clock:      h.clock,
	}, settings)
	t.Cleanup(func() { _ = h.c.Shutdown(context.Background()) })
	return h
}

func (h *harness) message(it content.Item) *kit.Message {
	msg := &kit.Message{ID: 10, ChatID: opID, From: kit.User{ID: opID}, Content: it}
	if t, ok := it.(content.Text); ok {
		msg.Text = t.Body
	}
	return msg
}

func (h *harness) press(t *testing.T, action string) string {
	t.Helper()
	toast, err := h.c.HandleCallback(context.Background(), &kit.Callback{
		ID: "cb", From: kit.User{ID: opID}, ChatID: opID, MessageID: 77, Data: CallbackPrefix + ":" + action,
	}, action)
	require.NoError(t, err)
	return toast
}

func (h *harness) send(t *testing.T, it content.Item) {
	t.Helper()
	handled, err := h.c.HandleMessage(context.Background(), h.message(it))
	require.NoError(t, err)
	require.True(t, handled)
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.c.State(opID) == StateIdle }, 2*time.Second, 5*time.Millisecond)
}

func noRelay() Settings {
	s := DefaultSettings()
	s.UseRelay = false
	return s
}

func TestFlowWithoutButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3, noRelay(), false)
	ctx := context.Background()

	require.NoError(t, h.c.Begin(ctx, kit.ChatTarget{ChatID: opID}, opID))
	assert.Equal(t, StateWaitingForContent, h.c.State(opID))
	assert.Equal(t, TextAskContent, h.ui.last().text)

	photo := content.Photo{Media: content.Media{FileID: "ph", Caption: "hello"}}
	h.send(t, photo)
	assert.Equal(t, StateAskingAboutControl, h.c.State(opID))
	assert.Equal(t, TextAskControl, h.ui.last().text)
	require.Len(t, h.ui.last().opt.Inline, 3)

	assert.Empty(t, h.press(t, ActionWithoutButton))
	assert.Equal(t, StateConfirming, h.c.State(opID))

	previews := h.preview.deliveries()
	require.Len(t, previews, 1)
	assert.Equal(t, opID, previews[0].chatID)
	assert.Equal(t, photo, previews[0].item)
	assert.Nil(t, previews[0].ctl)
	assert.Equal(t, TextConfirm, h.ui.last().text)

	h.press(t, ActionStart)
	h.waitIdle(t)

	got := h.sender.deliveries()
	require.Len(t, got, 3)
	chats := []int64{got[0].chatID, got[1].chatID, got[2].chatID}
	assert.ElementsMatch(t, []int64{1, 2, 3}, chats)
	assert.Equal(t, "Рассылка завершена! Сообщений отправлено: 3/3", h.ui.last().text)
	assert.Contains(t, h.ui.deleted, kit.MessageRef{ChatID: opID, MessageID: 77})
}

func TestFlowWithButton(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2, noRelay(), false)
	ctx := context.Background()

	require.NoError(t, h.c.Begin(ctx, kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "news"})
	h.press(t, ActionNeedButton)
	assert.Equal(t, StateWaitingForControlTarget, h.c.State(opID))
	assert.Equal(t, TextAskLink, h.ui.last().text)
	assert.Len(t, h.ui.deleted, 1)

	h.send(t, content.Photo{Media: content.Media{FileID: "x"}})
	assert.Equal(t, TextLinkNotText, h.ui.last().text)

	h.send(t, content.Text{Body: "tg://unknownaction"})
	assert.True(t, strings.HasPrefix(h.ui.last().text, "Ошибка при добавлении ссылки: "))
	assert.Equal(t, StateWaitingForControlTarget, h.c.State(opID))

	h.send(t, content.Text{Body: "https://example.com/x"})
	assert.Equal(t, StateWaitingForControlLabel, h.c.State(opID))
	assert.Equal(t, TextAskLabel, h.ui.last().text)

	h.send(t, content.Text{Body: strings.Repeat("a", 65)})
	assert.Equal(t, TextLabelInvalid, h.ui.last().text)
	assert.Equal(t, StateWaitingForControlLabel, h.c.State(opID))

	h.send(t, content.Text{Body: "Open\n"})
	assert.Equal(t, fmt.Sprintf(TextLabelRejected, content.ErrLabelLines.Error()), h.ui.last().text)
	assert.Equal(t, StateWaitingForControlLabel, h.c.State(opID))

	h.send(t, content.Text{Body: " Open\t"})
	assert.Equal(t, StateConfirming, h.c.State(opID))
	previews := h.preview.deliveries()
	require.Len(t, previews, 1)
	assert.Equal(t, &content.Control{Label: "Open", URL: "https://example.com/x"}, previews[0].ctl)

	h.press(t, ActionStart)
	h.waitIdle(t)
	for _, d := range h.sender.deliveries() {
		assert.Equal(t, "Open", d.ctl.Label)
	}
	assert.Equal(t, "Рассылка завершена! Сообщений отправлено: 2/2", h.ui.last().text)
}

func TestUnsupportedContentKeepsWaiting(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, noRelay(), false)
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))

	album := h.message(content.Photo{Media: content.Media{FileID: "p"}})
	album.AlbumID = "grp"
	handled, err := h.c.HandleMessage(context.Background(), album)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, TextUnsupported, h.ui.last().text)

	h.send(t, content.Unsupported{Reason: "sticker"})
	assert.Equal(t, TextUnsupported, h.ui.last().text)
	assert.Equal(t, StateWaitingForContent, h.c.State(opID))
}

func TestCancelDiscardsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, noRelay(), false)
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "hi"})

	assert.Equal(t, TextCancelToast, h.press(t, ActionCancel))
	assert.Equal(t, StateIdle, h.c.State(opID))
	last := h.ui.last()
	assert.Equal(t, TextCancelled, last.text)
	assert.Equal(t, [][]string{{BtnCreate}}, last.opt.ReplyKeyboard)

	handled, err := h.c.HandleMessage(context.Background(), h.message(content.Text{Body: "more"}))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestStaleButtons(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, noRelay(), false)
	assert.Equal(t, TextStale, h.press(t, ActionStart))
	assert.Equal(t, TextStale, h.press(t, ActionCancel))

	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))
	assert.Equal(t, TextStale, h.press(t, ActionStart))
	assert.Equal(t, StateWaitingForContent, h.c.State(opID))
}

func TestSessionExpires(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 1, noRelay(), false)
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))

	h.clock.Advance(29 * time.Minute)
	assert.Equal(t, StateWaitingForContent, h.c.State(opID))
	h.send(t, content.Text{Body: "x"})

	h.clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, h.c.Sweep())
	assert.Equal(t, StateIdle, h.c.State(opID))
}

func TestNoRecipients(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 0, noRelay(), false)
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "x"})
	h.press(t, ActionWithoutButton)
	h.press(t, ActionStart)

	assert.Equal(t, StateIdle, h.c.State(opID))
	assert.Equal(t, TextNoRecipients, h.ui.last().text)
	assert.Empty(t, h.sender.deliveries())
}

func TestStopRunningBroadcast(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 3, noRelay(), false)
	started := make(chan struct{}, 3)
	release := make(chan struct{})
	h.sender.block = func(int64) {
		started <- struct{}{}
		<-release
	}

	ctx := context.Background()
	require.NoError(t, h.c.Begin(ctx, kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "x"})
	h.press(t, ActionWithoutButton)
	h.press(t, ActionStart)

	<-started
	assert.Equal(t, StateBroadcasting, h.c.State(opID))

	require.NoError(t, h.c.Begin(ctx, kit.ChatTarget{ChatID: opID}, opID))
	assert.Equal(t, TextAlreadyRunning, h.ui.last().text)

	assert.Equal(t, TextStopToast, h.press(t, ActionStop))
	close(release)
	h.waitIdle(t)

	assert.Len(t, h.sender.deliveries(), 1)
	assert.Equal(t, "Рассылка завершена! Сообщений отправлено: 1/3\nОстановлено оператором, не отправлено: 2", h.ui.last().text)
}

func TestBroadcastThroughRelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2, DefaultSettings(), true)
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "relayed"})
	h.press(t, ActionWithoutButton)
	h.press(t, ActionStart)
	h.waitIdle(t)

	got := h.sender.deliveries()
	require.Len(t, got, 3)
	assert.Equal(t, opID, got[0].chatID)
	assert.Contains(t, h.ui.allTexts(), "Рассылка завершена! Сообщений отправлено: 2/2")
}

func TestShutdownStopsRuns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, 2, noRelay(), false)
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	h.sender.block = func(int64) {
		started <- struct{}{}
		<-release
	}
	require.NoError(t, h.c.Begin(context.Background(), kit.ChatTarget{ChatID: opID}, opID))
	h.send(t, content.Text{Body: "x"})
	h.press(t, ActionWithoutButton)
	h.press(t, ActionStart)
	<-started

	done := make(chan error, 1)
	go func() { done <- h.c.Shutdown(context.Background()) }()
	<-h.c.runCtx.Done()
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, h.c.State(opID))
	assert.Len(t, h.sender.deliveries(), 1)
}
