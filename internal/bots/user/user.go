// Package user holds the handlers of the client-facing bot identity.
package user

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"offerbot/internal/content"
	"offerbot/internal/eventbus"
	"offerbot/internal/metrics"
	"offerbot/internal/storage"
	kit "offerbot/internal/transport"
	"offerbot/internal/transport/telegram/router"
	logx "offerbot/pkg/logx"
	"offerbot/pkg/tgui"
)

// EventClientRegistered is published after a first /start.
const EventClientRegistered = "client.registered"

const (
	textVideoNoteReceived = "Кружочек получен! Сейчас перешлю его..."
	textNewClient         = "Новый пользователь %s только что зашёл в вашего бота!"
	textBuyPressed        = "Пользователь %s нажал кнопку «%s»"
)

// Sender is the user identity.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendItem(ctx context.Context, to kit.ChatTarget, it content.Item, opt *kit.SendOptions) (kit.MessageRef, error)
	EditMarkup(ctx context.Context, ref kit.MessageRef, inline [][]kit.Button) error
}

// Notifier reaches the owner; it is the admin identity.
type Notifier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Clients interface {
	AddClient(ctx context.Context, c storage.Client) (bool, error)
}

type Link struct {
	Label string
	URL   string
}

// Settings is the greeting and shop content; it hot-reloads.
type Settings struct {
	OwnerChatID int64

	WelcomePhoto     string
	WelcomeCaption   string
	WelcomeParseMode string
	WebAppURL        string
	WebAppLabel      string

	BuyLabel      string
	PurchaseLinks []Link
	SupportLabel  string
	SupportURL    string
}

const (
	shopPrefix = "shop"
	actionBuy  = "buy"
	// legacyBuy is the bare callback data on greetings sent before shop:buy existed.
	legacyBuy = "buy_product"
)

type Bot struct {
	sender  Sender
	owner   Notifier
	clients Clients
	bus     eventbus.Bus
	clk     clockwork.Clock
	log     logx.Logger

	mu       sync.RWMutex
	settings Settings
}

type Option func(*Bot)

func WithBus(b eventbus.Bus) Option      { return func(u *Bot) { u.bus = b } }
func WithClock(c clockwork.Clock) Option { return func(u *Bot) { u.clk = c } }
func WithLogger(log logx.Logger) Option  { return func(u *Bot) { u.log = log } }
func WithSettings(s Settings) Option     { return func(u *Bot) { u.settings = s } }

func New(sender Sender, owner Notifier, clients Clients, opts ...Option) *Bot {
	b := &Bot{sender: sender, owner: owner, clients: clients}
	for _, o := range opts {
		o(b)
	}
	if b.clk == nil {
		b.clk = clockwork.NewRealClock()
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	b.log = b.log.With(logx.String("comp", "user_bot"))
	return b
}

func (b *Bot) Apply(s Settings) {
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
}

func (b *Bot) current() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Register wires the handlers into r.
func (b *Bot) Register(r *router.Router) {
	r.Command("start", router.AccessEveryone, b.start)
	r.Callback(shopPrefix, actionBuy, router.AccessEveryone, b.buy)
	r.Callback(legacyBuy, "", router.AccessEveryone, b.buy)
	r.Fallback(router.AccessAdmin, b.echoFileID)
}

func mention(u kit.User) string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return "@" + strconv.FormatInt(u.ID, 10)
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	from := req.From
	regDate := b.clk.Now().UTC()
	if req.Message != nil && !req.Message.Date.IsZero() {
		regDate = req.Message.Date.UTC()
	}
	isNew, err := b.clients.AddClient(ctx, storage.Client{
		UserID:    from.ID,
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		RegDate:   regDate,
	})
	if err != nil {
		// The greeting still goes out; the client is registered on the next /start.
		req.Logger.Error("register client failed", logx.Err(err))
	}
	if isNew {
		metrics.ClientsRegistered.Inc()
		if b.bus != nil {
			b.bus.Publish(eventbus.Event{Type: EventClientRegistered, Data: from})
		}
		b.notifyOwner(ctx, fmt.Sprintf(textNewClient, mention(from)))
		req.Logger.Info("new client registered", logx.String("username", from.Username))
	}
	return b.greet(ctx, req.Chat)
}

func (b *Bot) greet(ctx context.Context, chat kit.ChatTarget) error {
	s := b.current()
	opt := &kit.SendOptions{
		ParseMode: s.WelcomeParseMode,
		Silent:    true,
		Inline:    greetingKeyboard(s),
	}
	if s.WelcomePhoto == "" {
		caption := s.WelcomeCaption
		if caption == "" {
			caption = "👋"
		}
		_, err := b.sender.SendText(ctx, chat, caption, opt)
		return err
	}
	photo := content.Photo{Media: content.Media{FileID: s.WelcomePhoto, Caption: s.WelcomeCaption}}
	_, err := b.sender.SendItem(ctx, chat, photo, opt)
	return err
}

func greetingKeyboard(s Settings) [][]kit.Button {
	kb := tgui.NewInline()
	if s.WebAppURL != "" {
		kb.Row(tgui.WebAppBtn(s.WebAppLabel, s.WebAppURL))
	}
	if len(s.PurchaseLinks) > 0 {
		kb.Row(tgui.Btn(s.BuyLabel, tgui.Data(shopPrefix, actionBuy, "")))
	}
	if s.SupportURL != "" {
		kb.Row(tgui.URLBtn(s.SupportLabel, s.SupportURL))
	}
	return kb.Rows()
}

func purchaseKeyboard(s Settings) [][]kit.Button {
	kb := tgui.NewInline()
	row := make([]kit.Button, 0, len(s.PurchaseLinks))
	for _, l := range s.PurchaseLinks {
		row = append(row, tgui.URLBtn(l.Label, l.URL))
	}
	kb.Row(row...)
	if s.SupportURL != "" {
		kb.Row(tgui.URLBtn(s.SupportLabel, s.SupportURL))
	}
	return kb.Rows()
}

func (b *Bot) buy(ctx context.Context, req *router.Request) error {
	s := b.current()
	req.Logger.Info("buy button pressed")
	b.notifyOwner(ctx, fmt.Sprintf(textBuyPressed, mention(req.From), s.BuyLabel))

	kb := purchaseKeyboard(s)
	if len(kb) == 0 {
		return nil
	}
	ref := kit.MessageRef{ChatID: req.Callback.ChatID, ThreadID: req.Callback.ThreadID, MessageID: req.Callback.MessageID}
	return b.sender.EditMarkup(ctx, ref, kb)
}

// echoFileID answers admins with the file id of a photo or video note so it
// can be put into the greeting settings.
func (b *Bot) echoFileID(ctx context.Context, req *router.Request) error {
	if req.Message == nil {
		return nil
	}
	switch v := req.Message.Content.(type) {
	case content.Photo:
		_, err := req.Reply(ctx, v.FileID, nil)
		return err
	case content.VideoNote:
		if _, err := req.Reply(ctx, textVideoNoteReceived, nil); err != nil {
			return err
		}
		if _, err := b.sender.SendItem(ctx, req.Chat, content.VideoNote{Media: content.Media{FileID: v.FileID}}, nil); err != nil {
			return err
		}
		_, err := req.Reply(ctx, v.FileID, nil)
		return err
	default:
		return nil
	}
}

func (b *Bot) notifyOwner(ctx context.Context, text string) {
	owner := b.current().OwnerChatID
	if owner == 0 || b.owner == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.owner.SendText(nctx, kit.ChatTarget{ChatID: owner}, text, nil); err != nil {
		b.log.Error("owner notification failed", logx.Err(err))
		return
	}
	b.log.Debug("owner notified")
}
