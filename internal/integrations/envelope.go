// Package integrations holds what the lead notifiers share.
package integrations

import (
	"encoding/json"
	"time"

	"offerbot/internal/storage"
)

const EventOfferConfirmation = "offer_confirmation"

// Lead is the wire view of a confirmation.
type Lead struct {
	ID               int64          `json:"id"`
	FirstName        string         `json:"first_name"`
	LastName         string         `json:"last_name"`
	Email            string         `json:"email"`
	PaymentType      string         `json:"payment_type"`
	IPAddress        string         `json:"ip_address"`
	UserAgent        string         `json:"user_agent"`
	TelegramUserID   string         `json:"telegram_user_id,omitempty"`
	TelegramUsername string         `json:"telegram_username,omitempty"`
	AdditionalData   map[string]any `json:"additional_data,omitempty"`
}

// Envelope is the body of the webhook POST and the amqp message.
type Envelope struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Lead      `json:"data"`
}

func NewEnvelope(c storage.Confirmation) Envelope {
	return Envelope{
		EventType: EventOfferConfirmation,
		Timestamp: c.ConfirmedAt.UTC(),
		Data: Lead{
			ID:               c.ID,
			FirstName:        c.FirstName,
			LastName:         c.LastName,
			Email:            c.Email,
			PaymentType:      c.PaymentType,
			IPAddress:        c.IPAddress,
			UserAgent:        c.UserAgent,
			TelegramUserID:   c.TelegramUserID,
			TelegramUsername: c.TelegramUsername,
			AdditionalData:   Additional(c),
		},
	}
}

// Additional decodes the stored extra payload; undecodable data is kept under "raw".
func Additional(c storage.Confirmation) map[string]any {
	if c.AdditionalData == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(c.AdditionalData), &m); err != nil {
		return map[string]any{"raw": c.AdditionalData}
	}
	return m
}

// PrettyAdditional renders the extra payload indented, or "" when absent.
func PrettyAdditional(c storage.Confirmation) string {
	m := Additional(c)
	if len(m) == 0 {
		return ""
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return c.AdditionalData
	}
	return string(b)
}
