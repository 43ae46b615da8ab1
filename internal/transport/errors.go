package transport

import (
	"fmt"
	"time"
)

// Error classes shared by adapters and delivery statistics.
const (
	ClassForbidden   = "Forbidden"
	ClassBadRequest  = "BadRequest"
	ClassFloodWait   = "FloodWait"
	ClassAPIError    = "APIError"
	ClassTimeout     = "Timeout"
	ClassCancelled   = "Cancelled"
	ClassNetwork     = "NetworkError"
	ClassUnsupported = "UnsupportedContent"
	ClassPanic       = "Panic"
)

// Error is a platform failure normalized by an adapter.
type Error struct {
	Class       string
	Code        int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Class, e.Code, e.Description)
	}
	if e.Description != "" {
		return e.Class + ": " + e.Description
	}
	if e.Err != nil {
		return e.Class + ": " + e.Err.Error()
	}
	return e.Class
}

func (e *Error) Unwrap() error { return e.Err }
