package adapter

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "offerbot/internal/transport"
)

// telebot formats API errors it has no sentinel for as "telegram: <desc> (<code>)".
var unknownAPIError = regexp.MustCompile(`telegram: (.*) \((\d{3})\)$`)

// mapError normalizes telebot failures into *transport.Error. Errors that are
// not API responses (network, context) are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.Error{
			Class:       kit.ClassFloodWait,
			Code:        429,
			Description: "retry after " + strconv.Itoa(flood.RetryAfter) + "s",
			RetryAfter:  time.Duration(flood.RetryAfter) * time.Second,
			Err:         err,
		}
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return &kit.Error{Class: classForCode(te.Code), Code: te.Code, Description: te.Description, Err: err}
	}
	if m := unknownAPIError.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[2])
		return &kit.Error{Class: classForCode(code), Code: code, Description: m[1], Err: err}
	}
	return err
}

func classForCode(code int) string {
	switch code {
	case 403:
		return kit.ClassForbidden
	case 400:
		return kit.ClassBadRequest
	case 429:
		return kit.ClassFloodWait
	default:
		return kit.ClassAPIError
	}
}
