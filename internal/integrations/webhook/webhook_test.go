package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerbot/internal/integrations"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

func lead() storage.Confirmation {
	return storage.Confirmation{
		ID:             7,
		FirstName:      "Ivan",
		Email:          "ivan@example.com",
		PaymentType:    "crypto",
		ConfirmedAt:    time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC),
		IPAddress:      "10.1.1.1",
		AdditionalData: `{"utm":"tg"}`,
	}
}

func TestNotifyPostsEnvelope(t *testing.T) {
	var got integrations.Envelope
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL, Secret: "s3cret"}, srv.Client(), logx.Nop())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), lead()))

	assert.Equal(t, UserAgent, headers.Get("User-Agent"))
	assert.Equal(t, "s3cret", headers.Get(SecretHeader))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "offer_confirmation", got.EventType)
	assert.True(t, got.Timestamp.Equal(lead().ConfirmedAt))
	assert.Equal(t, "ivan@example.com", got.Data.Email)
	assert.Equal(t, "tg", got.Data.AdditionalData["utm"])
}

func TestNotifyOmitsEmptySecret(t *testing.T) {
	var secret atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret.Store(r.Header.Get(SecretHeader))
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL}, srv.Client(), logx.Nop())
	require.NoError(t, err)
	require.NoError(t, n.Notify(context.Background(), lead()))
	assert.Equal(t, "", secret.Load())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := New(Config{URL: srv.URL, Failures: 2, Cooldown: time.Hour}, srv.Client(), logx.Nop())
	require.NoError(t, err)

	err = n.Notify(context.Background(), lead())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	require.Error(t, n.Notify(context.Background(), lead()))
	assert.Equal(t, gobreaker.StateOpen, n.State())

	err = n.Notify(context.Background(), lead())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{}, nil, logx.Nop())
	assert.Error(t, err)
}
