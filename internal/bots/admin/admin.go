// Package admin holds the handlers of the operator-facing bot identity.
package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"offerbot/internal/broadcast"
	"offerbot/internal/composer"
	"offerbot/internal/eventbus"
	"offerbot/internal/leads"
	"offerbot/internal/storage"
	kit "offerbot/internal/transport"
	"offerbot/internal/transport/telegram/router"
	logx "offerbot/pkg/logx"
	"offerbot/pkg/tgui"
)

// Composer is the broadcast workflow driven from this bot.
type Composer interface {
	Begin(ctx context.Context, chat kit.ChatTarget, operator int64) error
	HandleMessage(ctx context.Context, msg *kit.Message) (bool, error)
	HandleCallback(ctx context.Context, cb *kit.Callback, action string) (string, error)
}

type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (storage.Stats, error)
}

type Settings struct {
	OwnerChatID int64
	NotifyLeads bool
}

type Bot struct {
	comp   Composer
	sender Sender
	stats  StatsSource
	log    logx.Logger

	mu       sync.RWMutex
	settings Settings
}

func New(comp Composer, sender Sender, stats StatsSource, s Settings, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{comp: comp, sender: sender, stats: stats, settings: s, log: log.With(logx.String("comp", "admin_bot"))}
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

func (b *Bot) Register(r *router.Router) {
	r.Command("start", router.AccessEveryone, b.start)
	r.Command("stats", router.AccessAdmin, b.showStats)
	r.Text(composer.BtnCreate, router.AccessAdmin, b.create)
	r.Callback(composer.CallbackPrefix, "", router.AccessAdmin, b.callback)
	r.Fallback(router.AccessAdmin, b.message)
}

func (b *Bot) start(ctx context.Context, req *router.Request) error {
	if !req.IsAdmin {
		req.Logger.Warn("unexpected admin bot user", logx.Int64("user_id", req.From.ID), logx.String("username", req.From.Username))
		return nil
	}
	_, err := req.Reply(ctx, composer.TextWelcome, composer.MainKeyboard())
	return err
}

func (b *Bot) create(ctx context.Context, req *router.Request) error {
	return b.comp.Begin(ctx, req.Chat, req.From.ID)
}

func (b *Bot) callback(ctx context.Context, req *router.Request) error {
	toast, err := b.comp.HandleCallback(ctx, req.Callback, req.Action)
	if aerr := req.Answer(ctx, toast); aerr != nil {
		req.Logger.Debug("answer callback failed", logx.Err(aerr))
	}
	return err
}

func (b *Bot) message(ctx context.Context, req *router.Request) error {
	handled, err := b.comp.HandleMessage(ctx, req.Message)
	if err != nil || handled {
		return err
	}
	_, err = req.Reply(ctx, composer.TextWelcome, composer.MainKeyboard())
	return err
}

func (b *Bot) showStats(ctx context.Context, req *router.Request) error {
	if b.stats == nil {
		return nil
	}
	st, err := b.stats.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	lines := []tgui.H{
		tgui.KV("Пользователей", fmt.Sprint(st.Clients)),
		tgui.KV("Подтверждений", fmt.Sprint(st.Confirmations)),
		tgui.KV("Сегодня", fmt.Sprint(st.ConfirmationsToday)),
	}
	for _, pt := range []string{leads.PaymentInstallment, leads.PaymentCrypto, leads.PaymentUnknown} {
		if n := st.ByPaymentType[pt]; n > 0 {
			lines = append(lines, tgui.KV(pt, fmt.Sprint(n)))
		}
	}
	_, err = req.Reply(ctx, tgui.Lines(lines...).String(), &kit.SendOptions{ParseMode: "HTML"})
	return err
}

// Listen forwards new leads and finished broadcasts to the owner until ctx is done.
func (b *Bot) Listen(ctx context.Context, bus eventbus.Bus) {
	eventbus.Listen(ctx, bus, 32, func(e eventbus.Event) {
		switch data := e.Data.(type) {
		case leads.Recorded:
			b.notifyLead(ctx, data.Confirmation)
		case broadcast.Finished:
			b.notifyBroadcast(ctx, data)
		}
	}, leads.EventRecorded, broadcast.EventFinished)
}

// notifyBroadcast reports another operator's run to the owner. Previews and
// the owner's own runs are skipped; the operator already got the final report.
func (b *Bot) notifyBroadcast(ctx context.Context, f broadcast.Finished) {
	s := b.current()
	if f.Preview || s.OwnerChatID == 0 || f.Operator == s.OwnerChatID {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.sender.SendText(sctx, kit.ChatTarget{ChatID: s.OwnerChatID}, BroadcastSummary(f), &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		b.log.Warn("broadcast summary failed", logx.String("run_id", f.RunID), logx.Err(err))
	}
}

// BroadcastSummary renders a finished run for the owner chat.
func BroadcastSummary(f broadcast.Finished) string {
	lines := []tgui.H{
		tgui.B("Рассылка завершена"),
		tgui.KV("Оператор", fmt.Sprint(f.Operator)),
		tgui.KV("Отправлено", fmt.Sprintf("%d/%d", f.Stats.Success, f.Stats.Total)),
		tgui.KV("Длительность", f.Duration.Round(time.Second).String()),
	}
	classes := make([]string, 0, len(f.Stats.Errors))
	for class := range f.Stats.Errors {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		lines = append(lines, tgui.KV(class, fmt.Sprint(f.Stats.Errors[class])))
	}
	return tgui.Lines(lines...).String()
}

func (b *Bot) notifyLead(ctx context.Context, c storage.Confirmation) {
	s := b.current()
	if !s.NotifyLeads || s.OwnerChatID == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := b.sender.SendText(sctx, kit.ChatTarget{ChatID: s.OwnerChatID}, LeadSummary(c), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		b.log.Warn("lead notification failed", logx.Int64("id", c.ID), logx.Err(err))
	}
}

// LeadSummary renders a confirmation for the owner chat.
func LeadSummary(c storage.Confirmation) string {
	email := c.Email
	if leads.IsPlaceholder(email) {
		email = ""
	}
	user := c.TelegramUsername
	if user != "" {
		user = "@" + user
	}
	return tgui.Lines(
		tgui.B("Новое подтверждение оферты"),
		tgui.KV("Имя", c.FirstName+" "+c.LastName),
		tgui.KV("Email", email),
		tgui.KV("Тип оплаты", c.PaymentType),
		tgui.KV("Telegram", user),
		tgui.KV("Время", c.ConfirmedAt.UTC().Format("2006-01-02 15:04:05")+" UTC"),
	).String()
}
