package transport

import (
	"context"
	"strconv"
	"time"

	"offerbot/internal/content"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DisplayName prefers @username and falls back to the numeric id.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
	From     User
	Text     string
	// Content is the message decoded into the content union. Sticker, audio
	// and other kinds arrive as content.Unsupported.
	Content content.Item
	// AlbumID is set when the message is part of a media group.
	AlbumID string
	Date    time.Time
	IsGroup bool
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is a platform-neutral inline button. Exactly one of URL, WebApp or Data is set.
type Button struct {
	Text   string
	URL    string
	WebApp string
	Data   string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
	// Inline, when set, is rendered as an inline keyboard.
	Inline [][]Button
	// ReplyKeyboard rows of plain text buttons; RemoveKeyboard clears it.
	ReplyKeyboard  [][]string
	RemoveKeyboard bool
}

// Delivered is the result of sending content: where it landed and the content
// as the sending identity now sees it (file ids are per identity).
type Delivered struct {
	Ref     MessageRef
	Content content.Item
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditMarkup(ctx context.Context, ref MessageRef, inline [][]Button) error
	Delete(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
