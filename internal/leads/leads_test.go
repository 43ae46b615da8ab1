package leads

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/eventbus"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

func TestCoerceAliasesAndTypes(t *testing.T) {
	in := Coerce(map[string]any{
		"firstName":     " Иван ",
		"Last-Name":     "Петров",
		"EMAIL":         "Ivan@Example.COM",
		"payment":       "Crypto",
		"tg_user_id":    float64(123456789),
		"username":      "@ivan",
		"metadata":      map[string]any{"utm": "tg"},
		"favorite_food": "pizza",
	})
	assert.Equal(t, "Иван", in.FirstName)
	assert.Equal(t, "Петров", in.LastName)
	assert.Equal(t, "ivan@example.com", in.Email)
	assert.Equal(t, PaymentCrypto, in.PaymentType)
	assert.Equal(t, "123456789", in.TelegramUserID)
	assert.Equal(t, "ivan", in.TelegramUsername)
	assert.Equal(t, map[string]any{"utm": "tg"}, in.Additional)
	require.Len(t, in.Warnings, 1)
	assert.Contains(t, in.Warnings[0], "favorite_food")
}

func TestCoerceNeverFails(t *testing.T) {
	in := Coerce(map[string]any{})
	assert.True(t, IsPlaceholder(in.Email))
	assert.Equal(t, PaymentUnknown, in.PaymentType)
	assert.Empty(t, in.FirstName)
	assert.Len(t, in.Warnings, 2)

	in = Coerce(map[string]any{"email": "not-an-email", "payment_type": "barter", "additional_data": "free text"})
	assert.True(t, IsPlaceholder(in.Email))
	assert.Equal(t, "barter", in.PaymentType)
	assert.Equal(t, map[string]any{"value": "free text"}, in.Additional)
	assert.Len(t, in.Warnings, 3)

	a, b := PlaceholderEmail(), PlaceholderEmail()
	assert.NotEqual(t, a, b)
	assert.False(t, IsPlaceholder("user@example.com"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, validEmail("a.b@mail.example.org"))
	assert.False(t, validEmail("a@localhost"))
	assert.False(t, validEmail("Name <a@b.com>"))
	assert.False(t, validEmail("@b.com"))
}

type fakeNotifier struct {
	name  string
	err   error
	panic bool
	block chan struct{}

	mu   sync.Mutex
	got  []storage.Confirmation
	seen []ctxState
}

// ctxState is what a notifier observed about its context while running.
type ctxState struct {
	err         error
	hasDeadline bool
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(ctx context.Context, c storage.Confirmation) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.got = append(f.got, c)
	_, hasDeadline := ctx.Deadline()
	f.seen = append(f.seen, ctxState{err: ctx.Err(), hasDeadline: hasDeadline})
	f.mu.Unlock()
	if f.panic {
		panic("notifier exploded")
	}
	return f.err
}

func (f *fakeNotifier) calls() []storage.Confirmation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Confirmation(nil), f.got...)
}

func waitFor(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func TestSubmitFansOutIndependently(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	ok := &fakeNotifier{name: "sheets"}
	failing := &fakeNotifier{name: "email", err: errors.New("smtp down")}
	broken := &fakeNotifier{name: "webhook", panic: true}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	store := storage.NewMemory(time.Minute)
	s := NewService(store, WithClock(clk), WithBus(bus), WithNotifiers(ok, failing, broken))

	in := Coerce(map[string]any{"first_name": "Ivan", "email": "ivan@example.com", "payment_type": "installment", "extra": map[string]any{"k": "v"}})
	in.IP = "10.0.0.1"
	res, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.NotZero(t, res.ID)
	waitFor(t, s)

	for _, n := range []*fakeNotifier{ok, failing, broken} {
		got := n.calls()
		require.Len(t, got, 1, n.name)
		assert.Equal(t, res.ID, got[0].ID)
		assert.Equal(t, "10.0.0.1", got[0].IPAddress)
		assert.True(t, clk.Now().Equal(got[0].ConfirmedAt))
	}
	var extra map[string]any
	require.NoError(t, json.Unmarshal([]byte(ok.calls()[0].AdditionalData), &extra))
	assert.Equal(t, "v", extra["k"])

	select {
	case e := <-events:
		assert.Equal(t, EventRecorded, e.Type)
		assert.Equal(t, res.ID, e.Data.(Recorded).Confirmation.ID)
	default:
		t.Fatal("expected lead.recorded")
	}
}

func TestSubmitDuplicateSkipsFanOut(t *testing.T) {
	clk := clockwork.NewFakeClock()
	n := &fakeNotifier{name: "sheets"}
	s := NewService(storage.NewMemory(time.Minute), WithClock(clk), WithNotifiers(n))
	in := Input{Email: "a@example.com", PaymentType: PaymentCrypto}

	first, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	second, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)
	waitFor(t, s)
	assert.Len(t, n.calls(), 1)

	clk.Advance(2 * time.Minute)
	third, err := s.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	waitFor(t, s)
	assert.Len(t, n.calls(), 2)
}

func TestSubmitSurvivesRequestCancel(t *testing.T) {
	n := &fakeNotifier{name: "slow", block: make(chan struct{})}
	s := NewService(storage.NewMemory(0), WithNotifiers(n), WithNotifyTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	_, err := s.Submit(ctx, Input{Email: "b@example.com", PaymentType: PaymentCrypto})
	require.NoError(t, err)
	cancel()
	close(n.block)
	waitFor(t, s)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.seen, 1)
	assert.NoError(t, n.seen[0].err, "request cancel must not reach the notifier")
	assert.True(t, n.seen[0].hasDeadline)
}

type failingStore struct{}

func (failingStore) SaveConfirmation(context.Context, storage.Confirmation) (int64, bool, error) {
	return 0, false, errors.New("disk full")
}

func TestSubmitReturnsStoreError(t *testing.T) {
	n := &fakeNotifier{name: "sheets"}
	s := NewService(failingStore{}, WithNotifiers(n))
	_, err := s.Submit(context.Background(), Input{Email: "c@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	waitFor(t, s)
	assert.Empty(t, n.calls())
}

type fakeSheet struct {
	emails   []string
	appended []storage.Confirmation
	err      error
}

func (f *fakeSheet) Emails(context.Context) ([]string, error) { return f.emails, f.err }

func (f *fakeSheet) AppendRows(_ context.Context, rows []storage.Confirmation) error {
	f.appended = append(f.appended, rows...)
	return nil
}

func TestReconcileAppendsMissingInOrder(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	for i, e := range []string{"a@x.io", "B@x.io", "c@x.io", "a@x.io"} {
		_, _, err := store.SaveConfirmation(ctx, storage.Confirmation{
			Email:       e,
			PaymentType: PaymentCrypto,
			ConfirmedAt: time.Date(2026, 1, 1, 0, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}

	sheet := &fakeSheet{emails: []string{"b@x.io"}}
	r := NewReconciler(store, sheet, logx.Nop())
	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sheet.appended, 2)
	assert.Equal(t, "a@x.io", sheet.appended[0].Email)
	assert.Equal(t, "c@x.io", sheet.appended[1].Email)

	sheet.emails = []string{"a@x.io", "b@x.io", "c@x.io"}
	n, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileSheetError(t *testing.T) {
	r := NewReconciler(storage.NewMemory(0), &fakeSheet{err: errors.New("quota")}, logx.Nop())
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}
