package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/leads"
	"offerbot/internal/runtime/supervisor"
	"offerbot/internal/storage"
)

type fakeLeads struct {
	mu  sync.Mutex
	got []leads.Input
	res leads.Result
	err error
}

func (f *fakeLeads) Submit(_ context.Context, in leads.Input) (leads.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	return f.res, f.err
}

type brokenStore struct{ *storage.Memory }

func (brokenStore) Stats(context.Context) (storage.Stats, error) {
	return storage.Stats{}, errors.New("db gone")
}

func newServer(t *testing.T, cfg Config, l LeadService, store AdminStore, clk clockwork.Clock) *Server {
	t.Helper()
	if clk == nil {
		clk = clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	}
	return New(cfg, l, store, WithClock(clk), WithCounters(func() supervisor.Counters {
		return supervisor.Counters{Active: 3, Started: 4}
	}))
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t, Config{}, &fakeLeads{}, storage.NewMemory(0), nil)
	for _, path := range []string{"/health", "/api/health"} {
		rec := do(s, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "2026-07-01T10:00:00Z", body["timestamp"])
	}
}

func TestOfferConfirmationCoercesPayload(t *testing.T) {
	l := &fakeLeads{res: leads.Result{ID: 42}}
	s := newServer(t, Config{}, l, storage.NewMemory(0), nil)

	rec := do(s, http.MethodPost, "/api/offer-confirmation",
		`{"FirstName":"Anna","lastName":"K","EMAIL":"anna@example.com","paymentType":"installment","tg_user_id":12345}`,
		map[string]string{"User-Agent": "funnel/2"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(42), body["confirmation_id"])
	assert.Equal(t, false, body["duplicate"])

	require.Len(t, l.got, 1)
	in := l.got[0]
	assert.Equal(t, "Anna", in.FirstName)
	assert.Equal(t, "anna@example.com", in.Email)
	assert.Equal(t, "12345", in.TelegramUserID)
	assert.Equal(t, "funnel/2", in.UserAgent)
	assert.Equal(t, "192.0.2.1", in.IP)
}

func TestOfferConfirmationEmptyObjectIsAccepted(t *testing.T) {
	l := &fakeLeads{res: leads.Result{ID: 1}}
	s := newServer(t, Config{}, l, storage.NewMemory(0), nil)
	rec := do(s, http.MethodPost, "/api/offer-confirmation", `{}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, l.got, 1)
	assert.True(t, leads.IsPlaceholder(l.got[0].Email))
	assert.Equal(t, leads.PaymentUnknown, l.got[0].PaymentType)
}

func TestOfferConfirmationBadBody(t *testing.T) {
	l := &fakeLeads{}
	s := newServer(t, Config{}, l, storage.NewMemory(0), nil)
	for _, body := range []string{"not json", "[1,2]", "null"} {
		rec := do(s, http.MethodPost, "/api/offer-confirmation", body, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, map[string]any{"success": false, "message": "invalid request body"}, decode(t, rec))
	}
	assert.Empty(t, l.got)
}

func TestOfferConfirmationDuplicateAndFailure(t *testing.T) {
	l := &fakeLeads{res: leads.Result{ID: 9, Duplicate: true}}
	s := newServer(t, Config{}, l, storage.NewMemory(0), nil)
	rec := do(s, http.MethodPost, "/api/offer-confirmation", `{"email":"a@b.co"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])

	l.err = errors.New("disk full")
	rec = do(s, http.MethodPost, "/api/offer-confirmation", `{"email":"a@b.co"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestOfferConfirmationRateLimited(t *testing.T) {
	clk := clockwork.NewFakeClock()
	s := newServer(t, Config{RatePerMinute: 2}, &fakeLeads{}, storage.NewMemory(0), clk)
	post := func() int { return do(s, http.MethodPost, "/api/offer-confirmation", `{}`, nil).Code }

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	clk.Advance(30 * time.Second)
	assert.Equal(t, http.StatusOK, post())

	s.Apply(Config{RatePerMinute: 0})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, post())
	}
}

func TestAdminAuth(t *testing.T) {
	store := storage.NewMemory(0)
	s := newServer(t, Config{}, &fakeLeads{}, store, nil)
	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodGet, "/api/admin/stats", "", nil).Code)

	s.Apply(Config{AdminToken: "tok"})
	assert.Equal(t, http.StatusForbidden, do(s, http.MethodGet, "/api/admin/stats", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(s, http.MethodGet, "/api/admin/stats", "", map[string]string{"X-Admin-Token": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/admin/stats", "", map[string]string{"X-Admin-Token": "tok"}).Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/admin/stats", "", map[string]string{"Authorization": "Bearer tok"}).Code)
}

func TestAdminEndpoints(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory(0)
	for i := int64(1); i <= 3; i++ {
		_, err := store.AddClient(ctx, storage.Client{UserID: i})
		require.NoError(t, err)
	}
	_, _, err := store.SaveConfirmation(ctx, storage.Confirmation{Email: "a@b.co", PaymentType: "crypto"})
	require.NoError(t, err)

	s := newServer(t, Config{AdminToken: "tok"}, &fakeLeads{}, store, nil)
	auth := map[string]string{"X-Admin-Token": "tok"}

	stats := decode(t, do(s, http.MethodGet, "/api/admin/stats", "", auth))
	assert.Equal(t, float64(3), stats["total_users"])
	assert.Equal(t, float64(1), stats["total_confirmations"])

	users := decode(t, do(s, http.MethodGet, "/api/admin/users?limit=2", "", auth))
	assert.Equal(t, float64(2), users["count"])

	confs := decode(t, do(s, http.MethodGet, "/api/admin/confirmations", "", auth))
	assert.Equal(t, float64(1), confs["count"])

	info := decode(t, do(s, http.MethodGet, "/api/admin/server-info", "", auth))
	assert.Equal(t, "ok", info["database"])
	assert.Contains(t, info, "goroutines")
	sup, ok := info["supervisor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), sup["active"])
}

func TestAdminStoreError(t *testing.T) {
	s := newServer(t, Config{AdminToken: "tok"}, &fakeLeads{}, brokenStore{storage.NewMemory(0)}, nil)
	rec := do(s, http.MethodGet, "/api/admin/stats", "", map[string]string{"X-Admin-Token": "tok"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, Config{}, &fakeLeads{}, storage.NewMemory(0), nil)
	do(s, http.MethodGet, "/health", "", nil)
	rec := do(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "offerbot_http_requests_total")
}

func TestLimiterSweepsIdleBuckets(t *testing.T) {
	clk := clockwork.NewFakeClock()
	l := newIPLimiter(10, clk)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.tracked())
	clk.Advance(idleBucket + time.Second)
	assert.True(t, l.Allow("c"))
	assert.Equal(t, 1, l.tracked())
}
