package content

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	MinLinkLen  = 5
	MaxLinkLen  = 2048
	MaxLabelLen = 64
)

// tgActions are the deep-link actions accepted after the tg:// scheme.
var tgActions = []string{
	"resolve", "login", "join", "addstickers",
	"share", "msg", "confirmphone", "socks",
	"proxy", "privatepost", "bg", "setlanguage",
}

var forbiddenLinkChars = regexp.MustCompile(`[\s<>\[\]{}]`)

var (
	ErrLinkLength  = fmt.Errorf("длина ссылки должна быть от %d до %d символов", MinLinkLen, MaxLinkLen)
	ErrLinkScheme  = errors.New("допустимые схемы: http, https, tg")
	ErrLinkHost    = errors.New("отсутствует домен")
	ErrLinkTG      = errors.New("некорректный tg:// линк")
	ErrLinkChars   = errors.New("ссылка содержит запрещенные символы")
	ErrLabelEmpty  = errors.New("текст кнопки не может быть пустым")
	ErrLabelLength = fmt.Errorf("текст кнопки должен быть не длиннее %d символов", MaxLabelLen)
	ErrLabelLines  = errors.New("текст кнопки должен быть в одну строку")
)

// Control is an inline URL button attached to every send of a run.
type Control struct {
	Label string
	URL   string
}

// NewControl validates both parts.
func NewControl(label, link string) (*Control, error) {
	if err := ValidateLink(link); err != nil {
		return nil, err
	}
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	return &Control{Label: label, URL: link}, nil
}

// ValidateLink accepts http(s) URLs with a host and tg:// deep links whose
// action is on the allow-list.
func ValidateLink(raw string) error {
	if n := utf8.RuneCountInString(raw); n < MinLinkLen || n > MaxLinkLen {
		return ErrLinkLength
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("ошибка разбора ссылки: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return ErrLinkHost
		}
	case "tg":
		action := tgAction(u)
		if action == "" {
			return ErrLinkTG
		}
		if !slices.Contains(tgActions, action) {
			return fmt.Errorf("неподдерживаемое tg:// действие: %s", action)
		}
	default:
		return ErrLinkScheme
	}
	if forbiddenLinkChars.MatchString(raw) {
		return ErrLinkChars
	}
	return nil
}

// tgAction extracts the action from tg://join?invite=x or tg:join?invite=x.
func tgAction(u *url.URL) string {
	switch {
	case u.Host != "":
		return u.Host
	case u.Opaque != "":
		return strings.SplitN(u.Opaque, "?", 2)[0]
	default:
		return strings.TrimLeft(u.Path, "/")
	}
}

// ValidateLabel accepts non-blank single-line labels of at most MaxLabelLen characters.
func ValidateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return ErrLabelEmpty
	}
	if strings.Contains(label, "\n") {
		return ErrLabelLines
	}
	if utf8.RuneCountInString(label) > MaxLabelLen {
		return ErrLabelLength
	}
	return nil
}
