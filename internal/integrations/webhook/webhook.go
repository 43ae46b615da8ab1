// Package webhook POSTs lead envelopes to an external URL behind a circuit breaker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"offerbot/internal/integrations"
	"offerbot/internal/metrics"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

const (
	UserAgent    = "Offer-Confirmation-Bot/1.0"
	SecretHeader = "X-Webhook-Secret"
)

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
	// Failures in a row that open the breaker.
	Failures int
	Cooldown time.Duration
}

type Notifier struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    logx.Logger
}

func New(cfg Config, client *http.Client, log logx.Logger) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{cfg: cfg, client: client, log: log.With(logx.String("comp", "webhook"))}
	failures := uint32(cfg.Failures)
	n.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			n.log.Warn("circuit breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("webhook").Set(float64(gobreaker.StateClosed))
	return n, nil
}

func (n *Notifier) Name() string { return "webhook" }

// State reports the breaker state.
func (n *Notifier) State() gobreaker.State { return n.cb.State() }

func (n *Notifier) Notify(ctx context.Context, c storage.Confirmation) error {
	body, err := json.Marshal(integrations.NewEnvelope(c))
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	_, err = n.cb.Execute(func() (any, error) {
		return nil, n.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	n.log.Info("webhook sent", logx.String("email", c.Email), logx.String("payment_type", c.PaymentType))
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if n.cfg.Secret != "" {
		req.Header.Set(SecretHeader, n.cfg.Secret)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
