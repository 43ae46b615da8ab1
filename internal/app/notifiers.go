package app

import (
	"context"
	"io"
	"net/http"

	"offerbot/internal/config"
	"offerbot/internal/integrations/amqp"
	"offerbot/internal/integrations/email"
	"offerbot/internal/integrations/sheets"
	"offerbot/internal/integrations/webhook"
	"offerbot/internal/leads"
	logx "offerbot/pkg/logx"
)

// sinks are the lead fan-out targets built from config. sheet is kept apart
// because reconcile also reads from it.
type sinks struct {
	notifiers []leads.Notifier
	sheet     *sheets.Sheet
	closers   []io.Closer
}

func (s *sinks) names() []string {
	out := make([]string, 0, len(s.notifiers))
	for _, n := range s.notifiers {
		out = append(out, n.Name())
	}
	return out
}

func buildSinks(ctx context.Context, cfg *config.Config, log logx.Logger) (*sinks, error) {
	out := &sinks{}

	if cfg.Sheets.Enabled {
		sh, err := sheets.New(ctx, sheets.Config{
			CredentialsPath: cfg.Sheets.CredentialsPath,
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			Worksheet:       cfg.Sheets.Worksheet,
			Endpoint:        cfg.Sheets.Endpoint,
		}, log)
		if err != nil {
			return nil, err
		}
		out.sheet = sh
		out.notifiers = append(out.notifiers, sh)
	}

	if cfg.Email.Enabled {
		n, err := email.New(email.Config{
			Host:     cfg.Email.Server,
			Port:     cfg.Email.Port,
			User:     cfg.Email.User,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}, email.WithLogger(log))
		if err != nil {
			return nil, err
		}
		out.notifiers = append(out.notifiers, n)
	}

	if cfg.Webhook.Enabled {
		timeout, err := config.ParseDurationField("webhook.timeout", cfg.Webhook.Timeout)
		if err != nil {
			return nil, err
		}
		cooldown, err := config.ParseDurationField("webhook.breaker_cooldown", cfg.Webhook.BreakerCooldown)
		if err != nil {
			return nil, err
		}
		n, err := webhook.New(webhook.Config{
			URL:      cfg.Webhook.URL,
			Secret:   cfg.Webhook.Secret,
			Timeout:  timeout,
			Failures: cfg.Webhook.BreakerFailures,
			Cooldown: cooldown,
		}, &http.Client{}, log)
		if err != nil {
			return nil, err
		}
		out.notifiers = append(out.notifiers, n)
	}

	if cfg.AMQP.Enabled {
		p, err := amqp.New(amqp.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		}, log)
		if err != nil {
			return nil, err
		}
		out.notifiers = append(out.notifiers, p)
		out.closers = append(out.closers, p)
	}

	return out, nil
}
