package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/broadcast"
	"offerbot/internal/composer"
	"offerbot/internal/eventbus"
	"offerbot/internal/leads"
	"offerbot/internal/storage"
	kit "offerbot/internal/transport"
	"offerbot/internal/transport/telegram/router"
	logx "offerbot/pkg/logx"
)

type fakeComposer struct {
	begun    []int64
	handled  bool
	messages int
	actions  []string
}

func (f *fakeComposer) Begin(_ context.Context, _ kit.ChatTarget, op int64) error {
	f.begun = append(f.begun, op)
	return nil
}

func (f *fakeComposer) HandleMessage(context.Context, *kit.Message) (bool, error) {
	f.messages++
	return f.handled, nil
}

func (f *fakeComposer) HandleCallback(_ context.Context, _ *kit.Callback, action string) (string, error) {
	f.actions = append(f.actions, action)
	return "ok", nil
}

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	texts   []sent
	answers []string
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sent{to, text, opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) EditMarkup(context.Context, kit.MessageRef, [][]kit.Button) error { return nil }
func (f *fakeAdapter) Delete(context.Context, kit.MessageRef) error                     { return nil }

func (f *fakeAdapter) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.texts...)
}

func request(a *fakeAdapter, admin bool) *router.Request {
	return &router.Request{
		Chat:    kit.ChatTarget{ChatID: 10},
		From:    kit.User{ID: 10, Username: "op"},
		Message: &kit.Message{ChatID: 10, From: kit.User{ID: 10}, Text: "/start"},
		IsAdmin: admin,
		Adapter: a,
		Logger:  logx.Nop(),
	}
}

func TestStartGreetsOnlyAdmins(t *testing.T) {
	a := &fakeAdapter{}
	b := New(&fakeComposer{}, a, nil, Settings{}, logx.Nop())

	require.NoError(t, b.start(context.Background(), request(a, false)))
	assert.Empty(t, a.sent())

	require.NoError(t, b.start(context.Background(), request(a, true)))
	got := a.sent()
	require.Len(t, got, 1)
	assert.Equal(t, composer.TextWelcome, got[0].text)
	assert.Equal(t, [][]string{{composer.BtnCreate}}, got[0].opt.ReplyKeyboard)
}

func TestHandlersDelegateToComposer(t *testing.T) {
	a := &fakeAdapter{}
	c := &fakeComposer{}
	b := New(c, a, nil, Settings{}, logx.Nop())

	require.NoError(t, b.create(context.Background(), request(a, true)))
	assert.Equal(t, []int64{10}, c.begun)

	req := request(a, true)
	req.Callback = &kit.Callback{ID: "cb", From: req.From, ChatID: 10, MessageID: 3, Data: "bc:start"}
	req.Action = "start"
	require.NoError(t, b.callback(context.Background(), req))
	assert.Equal(t, []string{"start"}, c.actions)
	assert.Equal(t, []string{"ok"}, a.answers)

	// An idle operator gets the main menu back.
	require.NoError(t, b.message(context.Background(), request(a, true)))
	require.Len(t, a.sent(), 1)
	c.handled = true
	require.NoError(t, b.message(context.Background(), request(a, true)))
	assert.Len(t, a.sent(), 1)
	assert.Equal(t, 2, c.messages)
}

func TestStatsCommand(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	_, err := store.AddClient(ctx, storage.Client{UserID: 1})
	require.NoError(t, err)
	_, _, err = store.SaveConfirmation(ctx, storage.Confirmation{Email: "a@b.co", PaymentType: leads.PaymentCrypto})
	require.NoError(t, err)

	a := &fakeAdapter{}
	b := New(&fakeComposer{}, a, store, Settings{}, logx.Nop())
	require.NoError(t, b.showStats(ctx, request(a, true)))
	got := a.sent()
	require.Len(t, got, 1)
	assert.Equal(t, "HTML", got[0].opt.ParseMode)
	assert.Contains(t, got[0].text, "<b>Пользователей:</b> 1")
	assert.Contains(t, got[0].text, "<b>crypto:</b> 1")
}

func TestListenForwardsLeads(t *testing.T) {
	bus := eventbus.New()
	a := &fakeAdapter{}
	b := New(&fakeComposer{}, a, nil, Settings{OwnerChatID: 77, NotifyLeads: true}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Listen(ctx, bus)
	}()

	c := storage.Confirmation{ID: 1, FirstName: "Ivan", LastName: "P", Email: "ivan@example.com", PaymentType: "crypto", TelegramUsername: "ivan"}
	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: leads.EventRecorded, Data: leads.Recorded{Confirmation: c}})
		return len(a.sent()) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got := a.sent()[0]
	assert.Equal(t, int64(77), got.to.ChatID)
	assert.Contains(t, got.text, "ivan@example.com")
	assert.Contains(t, got.text, "@ivan")
}

func TestLeadSummaryHidesPlaceholder(t *testing.T) {
	s := LeadSummary(storage.Confirmation{Email: leads.PlaceholderEmail(), PaymentType: "unknown", ConfirmedAt: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)})
	assert.NotContains(t, s, "placeholder.invalid")
	assert.Contains(t, s, "<b>Email:</b> -")
	assert.Contains(t, s, "2026-02-01 08:00:00 UTC")
}

func TestNotifyLeadsDisabled(t *testing.T) {
	a := &fakeAdapter{}
	b := New(&fakeComposer{}, a, nil, Settings{OwnerChatID: 77}, logx.Nop())
	b.notifyLead(context.Background(), storage.Confirmation{ID: 1})
	assert.Empty(t, a.sent())

	b.Apply(Settings{OwnerChatID: 77, NotifyLeads: true})
	b.notifyLead(context.Background(), storage.Confirmation{ID: 1})
	assert.Len(t, a.sent(), 1)
}

func TestBroadcastSummaryGoesToOwner(t *testing.T) {
	a := &fakeAdapter{}
	b := New(&fakeComposer{}, a, nil, Settings{OwnerChatID: 77}, logx.Nop())
	st := broadcast.Stats{Total: 3, Success: 1, Failed: 2, Errors: map[string]int{"Forbidden": 2}}

	b.notifyBroadcast(context.Background(), broadcast.Finished{Operator: 5, Preview: true, Stats: st})
	b.notifyBroadcast(context.Background(), broadcast.Finished{Operator: 77, Stats: st})
	assert.Empty(t, a.sent(), "previews and the owner's own runs are not reported")

	b.notifyBroadcast(context.Background(), broadcast.Finished{Operator: 5, Stats: st, Duration: 90 * time.Second})
	got := a.sent()
	require.Len(t, got, 1)
	assert.Equal(t, int64(77), got[0].to.ChatID)
	assert.Contains(t, got[0].text, "1/3")
	assert.Contains(t, got[0].text, "Forbidden")
	assert.Contains(t, got[0].text, "1m30s")
}
