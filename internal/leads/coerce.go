package leads

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Known payment types; anything else is kept and reported as a warning.
const (
	PaymentInstallment = "installment"
	PaymentCrypto      = "crypto"
	PaymentUnknown     = "unknown"
)

// Input is a lead after coercion.
type Input struct {
	FirstName        string
	LastName         string
	Email            string
	PaymentType      string
	TelegramUserID   string
	TelegramUsername string
	Additional       map[string]any

	IP        string
	UserAgent string

	// Warnings lists what coercion had to fix.
	Warnings []string
}

// field aliases by normalized key.
var aliases = map[string]string{
	"firstname":        "first_name",
	"first":            "first_name",
	"name":             "first_name",
	"lastname":         "last_name",
	"last":             "last_name",
	"surname":          "last_name",
	"email":            "email",
	"mail":             "email",
	"emailaddress":     "email",
	"paymenttype":      "payment_type",
	"payment":          "payment_type",
	"paymentmethod":    "payment_type",
	"telegramuserid":   "telegram_user_id",
	"tguserid":         "telegram_user_id",
	"telegramid":       "telegram_user_id",
	"userid":           "telegram_user_id",
	"telegramusername": "telegram_username",
	"tgusername":       "telegram_username",
	"username":         "telegram_username",
	"additionaldata":   "additional_data",
	"additional":       "additional_data",
	"extra":            "additional_data",
	"metadata":         "additional_data",
}

// normalizeKey folds case and drops separators so first_name, firstName and
// First-Name all match.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Coerce turns an arbitrary JSON object into an Input. It never fails:
// missing names become empty, a missing or invalid email becomes a
// placeholder and a missing payment type becomes "unknown".
func Coerce(raw map[string]any) Input {
	fields := map[string]any{}
	var in Input
	for k, v := range raw {
		canon, ok := aliases[normalizeKey(k)]
		if !ok {
			in.Warnings = append(in.Warnings, fmt.Sprintf("unknown field %q ignored", k))
			continue
		}
		// First spelling wins when a payload repeats a field.
		if _, dup := fields[canon]; dup {
			continue
		}
		fields[canon] = v
	}

	in.FirstName = scalar(fields["first_name"])
	in.LastName = scalar(fields["last_name"])
	in.TelegramUserID = scalar(fields["telegram_user_id"])
	in.TelegramUsername = strings.TrimPrefix(scalar(fields["telegram_username"]), "@")

	email := strings.ToLower(scalar(fields["email"]))
	switch {
	case email == "":
		in.Warnings = append(in.Warnings, "email missing")
		email = PlaceholderEmail()
	case !validEmail(email):
		in.Warnings = append(in.Warnings, fmt.Sprintf("email %q invalid", email))
		email = PlaceholderEmail()
	}
	in.Email = email

	pt := strings.ToLower(scalar(fields["payment_type"]))
	switch pt {
	case "":
		in.Warnings = append(in.Warnings, "payment_type missing")
		pt = PaymentUnknown
	case PaymentInstallment, PaymentCrypto:
	default:
		in.Warnings = append(in.Warnings, fmt.Sprintf("unknown payment_type %q (allowed: installment, crypto)", pt))
	}
	in.PaymentType = pt

	switch v := fields["additional_data"].(type) {
	case nil:
	case map[string]any:
		if len(v) > 0 {
			in.Additional = v
		}
	default:
		in.Additional = map[string]any{"value": v}
		in.Warnings = append(in.Warnings, "additional_data is not an object")
	}
	return in
}

// PlaceholderEmail stands in for a lead that arrived without a usable address.
func PlaceholderEmail() string {
	return "unknown+" + uuid.NewString() + "@placeholder.invalid"
}

// IsPlaceholder reports whether email was synthesized by Coerce.
func IsPlaceholder(email string) bool {
	return strings.HasPrefix(email, "unknown+") && strings.HasSuffix(email, "@placeholder.invalid")
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// scalar renders a JSON scalar as a trimmed string; objects and arrays are dropped.
func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// additionalJSON encodes the extra payload for storage; empty yields "".
func additionalJSON(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
