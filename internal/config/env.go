package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Env holds secrets and deployment knobs read from the process environment.
// Non-empty values override the file config.
type Env struct {
	UserBotToken   string `env:"USER_BOT_TOKEN"`
	AdminBotToken  string `env:"ADMIN_BOT_TOKEN"`
	AdminIDs       string `env:"ADMIN_IDS"`
	OperatorChatID int64  `env:"OPERATOR_CHAT_ID"`
	OwnerChatID    int64  `env:"OWNER_CHAT_ID"`
	LogLevel       string `env:"LOG_LEVEL"`

	DatabaseDriver string `env:"DATABASE_DRIVER"`
	DatabaseURL    string `env:"DATABASE_URL"`

	APIHost       string `env:"API_HOST"`
	APIPort       int    `env:"API_PORT"`
	APIAdminToken string `env:"API_ADMIN_TOKEN"`

	SMTPServer        string `env:"SMTP_SERVER"`
	SMTPPort          int    `env:"SMTP_PORT"`
	SMTPUser          string `env:"SMTP_USER"`
	SMTPPassword      string `env:"SMTP_PASSWORD"`
	NotificationEmail string `env:"NOTIFICATION_EMAIL"`

	WebhookURL     string `env:"WEBHOOK_URL"`
	WebhookSecret  string `env:"WEBHOOK_SECRET"`
	WebhookTimeout string `env:"WEBHOOK_TIMEOUT"`

	SheetsCredentialsPath string `env:"GOOGLE_SHEETS_CREDENTIALS_PATH"`
	SheetsID              string `env:"GOOGLE_SHEETS_ID"`
	SheetsWorksheet       string `env:"GOOGLE_SHEETS_WORKSHEET_NAME"`

	AMQPURL string `env:"AMQP_URL"`
}

// LoadEnv reads dotenvPath (if it exists) into the process environment and
// then maps the environment onto Env. A missing dotenv file is not an error.
func LoadEnv(dotenvPath string) (*Env, error) {
	if p := strings.TrimSpace(dotenvPath); p != "" {
		_ = godotenv.Load(p)
	}

	var e Env
	if err := env.Load(&e, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if _, err := ParseIDList(e.AdminIDs); err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	return &e, nil
}

// ParseIDList parses a comma or whitespace separated list of chat ids.
func ParseIDList(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == ' ' || r == '\t' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", f)
		}
		out = append(out, id)
	}
	return out, nil
}

// Apply overlays non-empty environment values onto cfg.
// Setting a service's address or credentials through the environment also enables it.
func (e *Env) Apply(cfg *Config) {
	if e == nil || cfg == nil {
		return
	}
	setStr := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}

	setStr(&cfg.Telegram.UserToken, e.UserBotToken)
	setStr(&cfg.Telegram.AdminToken, e.AdminBotToken)
	if ids, err := ParseIDList(e.AdminIDs); err == nil && len(ids) > 0 {
		cfg.Telegram.AdminIDs = ids
	}
	if e.OperatorChatID != 0 {
		cfg.Telegram.OperatorChatID = e.OperatorChatID
	}
	if e.OwnerChatID != 0 {
		cfg.Telegram.OwnerChatID = e.OwnerChatID
	}
	setStr(&cfg.Logging.Level, e.LogLevel)

	setStr(&cfg.Storage.Driver, e.DatabaseDriver)
	setStr(&cfg.Storage.DSN, e.DatabaseURL)

	setStr(&cfg.API.Host, e.APIHost)
	if e.APIPort > 0 {
		cfg.API.Port = e.APIPort
	}
	setStr(&cfg.API.AdminToken, e.APIAdminToken)

	setStr(&cfg.Email.Server, e.SMTPServer)
	if e.SMTPPort > 0 {
		cfg.Email.Port = e.SMTPPort
	}
	setStr(&cfg.Email.User, e.SMTPUser)
	setStr(&cfg.Email.Password, e.SMTPPassword)
	setStr(&cfg.Email.To, e.NotificationEmail)
	if strings.TrimSpace(e.SMTPUser) != "" && strings.TrimSpace(e.NotificationEmail) != "" {
		cfg.Email.Enabled = true
	}

	setStr(&cfg.Webhook.URL, e.WebhookURL)
	setStr(&cfg.Webhook.Secret, e.WebhookSecret)
	setStr(&cfg.Webhook.Timeout, e.WebhookTimeout)
	if strings.TrimSpace(e.WebhookURL) != "" {
		cfg.Webhook.Enabled = true
	}

	setStr(&cfg.Sheets.CredentialsPath, e.SheetsCredentialsPath)
	setStr(&cfg.Sheets.SpreadsheetID, e.SheetsID)
	setStr(&cfg.Sheets.Worksheet, e.SheetsWorksheet)
	if strings.TrimSpace(e.SheetsID) != "" && strings.TrimSpace(e.SheetsCredentialsPath) != "" {
		cfg.Sheets.Enabled = true
	}

	setStr(&cfg.AMQP.URL, e.AMQPURL)
	if strings.TrimSpace(e.AMQPURL) != "" {
		cfg.AMQP.Enabled = true
	}
}
