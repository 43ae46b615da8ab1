package config

import "strings"

const (
	DefaultConcurrency   = 29
	DefaultChunkSize     = 100
	DefaultThrottleDelay = "50ms"
	DefaultSessionTTL    = "30m"
	DefaultDedupWindow   = "10m"
	DefaultNotifyTimeout = "15s"
	DefaultMaxFileSize   = 20 << 20

	sheetsDefaultWorksheet = "Offer Confirmations"
)

// ApplyDefaults fills zero fields in place. It is idempotent.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Telegram.OwnerChatID == 0 && len(c.Telegram.AdminIDs) > 0 {
		c.Telegram.OwnerChatID = c.Telegram.AdminIDs[0]
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}

	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.DSN) == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "./offerbot.db"
	}

	if strings.TrimSpace(c.API.Host) == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8000
	}
	if len(c.API.CORSOrigins) == 0 {
		c.API.CORSOrigins = []string{"*"}
	}
	if strings.TrimSpace(c.API.BodyLimit) == "" {
		c.API.BodyLimit = "64K"
	}

	if strings.TrimSpace(c.Pprof.Addr) == "" {
		c.Pprof.Addr = "127.0.0.1:6060"
	}

	if c.Broadcast.Concurrency <= 0 {
		c.Broadcast.Concurrency = DefaultConcurrency
	}
	if c.Broadcast.ChunkSize <= 0 {
		c.Broadcast.ChunkSize = DefaultChunkSize
	}
	if strings.TrimSpace(c.Broadcast.ThrottleDelay) == "" {
		c.Broadcast.ThrottleDelay = DefaultThrottleDelay
	}
	if c.Broadcast.UseRelay == nil {
		on := true
		c.Broadcast.UseRelay = &on
	}
	if strings.TrimSpace(c.Broadcast.Delivery) == "" {
		c.Broadcast.Delivery = "resend"
	}
	if c.Broadcast.MaxFileSize <= 0 {
		c.Broadcast.MaxFileSize = DefaultMaxFileSize
	}

	if strings.TrimSpace(c.Composer.SessionTTL) == "" {
		c.Composer.SessionTTL = DefaultSessionTTL
	}

	if strings.TrimSpace(c.Leads.DedupWindow) == "" {
		c.Leads.DedupWindow = DefaultDedupWindow
	}
	if strings.TrimSpace(c.Leads.NotifyTimeout) == "" {
		c.Leads.NotifyTimeout = DefaultNotifyTimeout
	}

	if strings.TrimSpace(c.Sheets.Worksheet) == "" {
		c.Sheets.Worksheet = sheetsDefaultWorksheet
	}
	if strings.TrimSpace(c.Sheets.ReconcileCron) == "" {
		c.Sheets.ReconcileCron = "@hourly"
	}

	if strings.TrimSpace(c.Email.Server) == "" {
		c.Email.Server = "smtp.gmail.com"
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}

	if strings.TrimSpace(c.Webhook.Timeout) == "" {
		c.Webhook.Timeout = "30s"
	}
	if c.Webhook.BreakerFailures <= 0 {
		c.Webhook.BreakerFailures = 5
	}
	if strings.TrimSpace(c.Webhook.BreakerCooldown) == "" {
		c.Webhook.BreakerCooldown = "1m"
	}

	if strings.TrimSpace(c.AMQP.Exchange) == "" {
		c.AMQP.Exchange = "offerbot.events"
	}
	if strings.TrimSpace(c.AMQP.RoutingKey) == "" {
		c.AMQP.RoutingKey = "lead.offer_confirmation"
	}

	if strings.TrimSpace(c.UserBot.WebAppLabel) == "" {
		c.UserBot.WebAppLabel = "Открыть"
	}
	if strings.TrimSpace(c.UserBot.BuyLabel) == "" {
		c.UserBot.BuyLabel = "Оплатить 💳"
	}
	if strings.TrimSpace(c.UserBot.SupportLabel) == "" {
		c.UserBot.SupportLabel = "Проблема с оплатой"
	}
}

// ReconcileEnabled reports whether the scheduled sheet backfill runs.
func (s SheetsConfig) ReconcileEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(s.ReconcileCron)) {
	case "", "off", "none", "disabled":
		return false
	}
	return s.Enabled
}

// RelayEnabled reports the effective use_relay setting.
func (b BroadcastConfig) RelayEnabled() bool {
	return b.UseRelay == nil || *b.UseRelay
}
