package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	"offerbot/internal/runtime/scheduler"
	logx "offerbot/pkg/logx"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks a parsed config (after env overlay and defaults).
// All problems are reported together.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Telegram.UserToken) == "" {
		add("telegram.user_token (USER_BOT_TOKEN) is required")
	}
	if strings.TrimSpace(c.Telegram.AdminToken) == "" {
		add("telegram.admin_token (ADMIN_BOT_TOKEN) is required")
	}
	if len(c.Telegram.AdminIDs) == 0 {
		add("telegram.admin_ids (ADMIN_IDS) must list at least one operator")
	}
	if c.Broadcast.RelayEnabled() && c.Telegram.OperatorChatID == 0 {
		add("telegram.operator_chat_id (OPERATOR_CHAT_ID) is required when broadcast.use_relay is on")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Telegram.Enabled && !logx.ValidLevel(c.Logging.Telegram.MinLevel) {
		add("logging.telegram.min_level: unknown level %q", c.Logging.Telegram.MinLevel)
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		add("storage.driver: unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		add("storage.dsn (DATABASE_URL) is required for postgres")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		add("api.port: out of range: %d", c.API.Port)
	}
	if c.API.RatePerMinute < 0 {
		add("api.rate_per_minute must be >= 0")
	}
	if _, err := ParseDurationField("api.shutdown_timeout", c.API.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.Pprof.Enabled {
		if host, _, err := net.SplitHostPort(c.Pprof.Addr); err != nil {
			add("pprof.addr: %v", err)
		} else if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) && c.Pprof.Token == "" {
			add("pprof.token is required when pprof.addr is not a loopback address")
		}
	}

	if c.Broadcast.Concurrency < 1 {
		add("broadcast.concurrency must be >= 1")
	}
	if c.Broadcast.ChunkSize < 1 {
		add("broadcast.chunk_size must be >= 1")
	}
	if _, err := ParseDurationField("broadcast.throttle_delay", c.Broadcast.ThrottleDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("broadcast.send_timeout", c.Broadcast.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	switch c.Broadcast.Delivery {
	case "resend", "copy":
	default:
		add("broadcast.delivery: must be resend or copy, got %q", c.Broadcast.Delivery)
	}

	for path, raw := range map[string]string{
		"composer.session_ttl":     c.Composer.SessionTTL,
		"leads.dedup_window":       c.Leads.DedupWindow,
		"leads.notify_timeout":     c.Leads.NotifyTimeout,
		"webhook.timeout":          c.Webhook.Timeout,
		"webhook.breaker_cooldown": c.Webhook.BreakerCooldown,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Sheets.Enabled {
		if strings.TrimSpace(c.Sheets.SpreadsheetID) == "" {
			add("sheets.spreadsheet_id (GOOGLE_SHEETS_ID) is required when sheets are enabled")
		}
		if strings.TrimSpace(c.Sheets.CredentialsPath) == "" && strings.TrimSpace(c.Sheets.Endpoint) == "" {
			add("sheets.credentials_path (GOOGLE_SHEETS_CREDENTIALS_PATH) is required when sheets are enabled")
		}
	}
	if c.Sheets.ReconcileEnabled() {
		sp, err := scheduler.ParseSpec(c.Sheets.ReconcileCron)
		if err == nil {
			_, err = cronParser.Parse(sp.Cron)
		}
		if err != nil {
			add("sheets.reconcile_cron: %v", err)
		}
	}
	if c.Email.Enabled {
		if strings.TrimSpace(c.Email.To) == "" {
			add("email.to (NOTIFICATION_EMAIL) is required when email is enabled")
		}
		if c.Email.Port <= 0 || c.Email.Port > 65535 {
			add("email.port: out of range: %d", c.Email.Port)
		}
	}
	if c.Webhook.Enabled && !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		add("webhook.url: must be an http(s) URL")
	}
	if c.AMQP.Enabled && strings.TrimSpace(c.AMQP.URL) == "" {
		add("amqp.url (AMQP_URL) is required when amqp is enabled")
	}

	return errors.Join(errs...)
}
