package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	API       APIConfig       `json:"api"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Composer  ComposerConfig  `json:"composer"`
	Leads     LeadsConfig     `json:"leads"`
	Sheets    SheetsConfig    `json:"sheets"`
	Email     EmailConfig     `json:"email"`
	Webhook   WebhookConfig   `json:"webhook"`
	AMQP      AMQPConfig      `json:"amqp"`
	UserBot   UserBotConfig   `json:"user_bot"`
	Pprof     PprofConfig     `json:"pprof"`
}

// TelegramConfig holds both bot identities.
//
// The user bot talks to clients and originates broadcasts; the admin bot
// talks to operators. Tokens are usually supplied via USER_BOT_TOKEN and
// ADMIN_BOT_TOKEN rather than the file.
type TelegramConfig struct {
	UserToken  string  `json:"user_token,omitempty"`
	AdminToken string  `json:"admin_token,omitempty"`
	AdminIDs   []int64 `json:"admin_ids"`
	// OperatorChatID is the fixed chat the relay re-creates composed content in.
	OperatorChatID int64 `json:"operator_chat_id"`
	// OwnerChatID receives client and lead notifications. Defaults to the first admin.
	OwnerChatID int64 `json:"owner_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines into a chat through the admin bot.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dsn": "./offerbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite | postgres | memory
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type APIConfig struct {
	Enabled    bool   `json:"enabled"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	AdminToken string `json:"admin_token,omitempty"`
	// CORSOrigins defaults to "*".
	CORSOrigins []string `json:"cors_origins,omitempty"`
	// RatePerMinute bounds lead submissions per client IP. 0 disables the limiter.
	RatePerMinute   int    `json:"rate_per_minute"`
	BodyLimit       string `json:"body_limit,omitempty"` // echo size string, e.g. "64K"
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// PprofConfig exposes net/http/pprof on its own listener. Token is required
// unless Addr is a loopback address.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Token   string `json:"token,omitempty"`
}

// BroadcastConfig tunes the dispatcher. All fields hot-reload and apply to the next run.
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 29
//   - chunk_size: 100
//   - throttle_delay: "50ms"
//   - delivery: "resend"
type BroadcastConfig struct {
	Concurrency   int    `json:"concurrency"`
	ChunkSize     int    `json:"chunk_size"`
	ThrottleDelay string `json:"throttle_delay"`
	UseRelay      *bool  `json:"use_relay,omitempty"`
	Delivery      string `json:"delivery,omitempty"` // resend | copy
	SendTimeout   string `json:"send_timeout,omitempty"`
	MaxFileSize   int64  `json:"max_file_size,omitempty"` // bytes, relay download cap
}

type ComposerConfig struct {
	SessionTTL string `json:"session_ttl"`
	// ProgressEvery edits the progress message after this many chunks. 0 disables updates.
	ProgressEvery int `json:"progress_every,omitempty"`
}

type LeadsConfig struct {
	DedupWindow   string `json:"dedup_window"`
	NotifyTimeout string `json:"notify_timeout"`
	// NotifyAdmins forwards a short lead summary to the owner chat via the admin bot.
	NotifyAdmins bool `json:"notify_admins"`
}

type SheetsConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsPath string `json:"credentials_path"`
	SpreadsheetID   string `json:"spreadsheet_id"`
	Worksheet       string `json:"worksheet"`
	// ReconcileCron is a cron spec, "@every <dur>" or a Go duration. Default
	// "@hourly"; "off" disables the scheduled backfill.
	ReconcileCron string `json:"reconcile_cron,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled"`
	Server   string `json:"server"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Secret  string `json:"secret,omitempty"`
	Timeout string `json:"timeout"`
	// BreakerFailures consecutive failures open the breaker. Default 5.
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
}

type AMQPConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key,omitempty"`
}

// UserBotConfig is the content the user bot greets clients with.
type UserBotConfig struct {
	WelcomePhoto   string `json:"welcome_photo"` // file id or URL
	WelcomeCaption string `json:"welcome_caption"`
	// WelcomeParseMode is HTML, Markdown or MarkdownV2; empty sends plain text.
	WelcomeParseMode string      `json:"welcome_parse_mode,omitempty"`
	WebAppURL        string      `json:"webapp_url"`
	WebAppLabel      string      `json:"webapp_label,omitempty"`
	BuyLabel         string      `json:"buy_label,omitempty"`
	PurchaseLinks    []LinkEntry `json:"purchase_links,omitempty"`
	SupportLabel     string      `json:"support_label,omitempty"`
	SupportURL       string      `json:"support_url,omitempty"`
}

type LinkEntry struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}
