package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": DSN is a file path (created with parent dirs)
//   - "postgres": DSN is a libpq/pgx connection string
//   - "memory": DSN is ignored
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// DedupWindow is how far back SaveConfirmation looks for an identical lead.
	DedupWindow time.Duration
}

// Client is a user who pressed /start in the user bot.
type Client struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	RegDate   time.Time `json:"reg_date"`
}

// Confirmation is one offer confirmation lead.
type Confirmation struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	Email            string    `json:"email"`
	PaymentType      string    `json:"payment_type"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	TelegramUserID   string    `json:"telegram_user_id,omitempty"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	AdditionalData   string    `json:"additional_data,omitempty"`
}

// Stats is the admin dashboard summary.
type Stats struct {
	Clients            int            `json:"total_users"`
	Confirmations      int            `json:"total_confirmations"`
	ConfirmationsToday int            `json:"today_confirmations"`
	ByPaymentType      map[string]int `json:"by_payment_type"`
}

const defaultDedupWindow = 10 * time.Minute

// sqliteTime is fixed-width so stored timestamps compare correctly as text.
const sqliteTime = "2006-01-02 15:04:05.000000"

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
