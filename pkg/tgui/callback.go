package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes,
// counted over the full "prefix:action:payload" string.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "prefix:action:payload".
// Payload is kept as-is (no escaping).
func Data(prefix, action, payload string) string {
	prefix = strings.TrimSpace(prefix)
	action = strings.TrimSpace(action)
	if payload == "" {
		return prefix + ":" + action
	}
	return prefix + ":" + action + ":" + payload
}

// SplitData is the inverse of Data. ok is false when data has no action part.
func SplitData(data string) (prefix, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

// CheckData reports ErrCallbackDataTooLong for data the platform would reject.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
