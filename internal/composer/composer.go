package composer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"offerbot/internal/broadcast"
	"offerbot/internal/content"
	kit "offerbot/internal/transport"
	logx "offerbot/pkg/logx"
)

type State string

const (
	StateIdle                    State = "idle"
	StateWaitingForContent       State = "waiting_for_content"
	StateAskingAboutControl      State = "asking_about_control"
	StateWaitingForControlTarget State = "waiting_for_control_target"
	StateWaitingForControlLabel  State = "waiting_for_control_label"
	StateConfirming              State = "confirming"
	StateBroadcasting            State = "broadcasting"
)

// UI is the admin identity as the composer talks to operators through it.
type UI interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	Delete(ctx context.Context, ref kit.MessageRef) error
}

type Recipients interface {
	ListRecipientIDs(ctx context.Context) ([]int64, error)
}

// Settings hot-reload; a running broadcast keeps the ones it started with.
type Settings struct {
	SessionTTL time.Duration
	// ProgressEvery edits the progress message after this many chunks. 0 disables it.
	ProgressEvery int
	UseRelay      bool
}

func DefaultSettings() Settings {
	return Settings{SessionTTL: 30 * time.Minute, ProgressEvery: 1, UseRelay: true}
}

// Deps are the collaborators of one composer. Preview is the identity the
// operator composed with; Sender is the identity clients receive from.
type Deps struct {
	UI         UI
	Preview    broadcast.Bot
	Sender     broadcast.Bot
	Dispatcher *broadcast.Dispatcher
	Recipients Recipients
	Clock      clockwork.Clock
	Log        logx.Logger
}

type session struct {
	operator int64
	chat     kit.ChatTarget
	state    State
	item     content.Item
	link     string
	control  *content.Control
	touched  time.Time
	stop     context.CancelFunc
}

// Composer runs the broadcast composition workflow, one session per operator.
type Composer struct {
	deps Deps
	log  logx.Logger
	clk  clockwork.Clock

	mu       sync.Mutex
	settings Settings
	sessions map[int64]*session

	runCtx   context.Context
	stopRuns context.CancelFunc
	runs     sync.WaitGroup
}

func New(deps Deps, settings Settings) *Composer {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Composer{
		deps:     deps,
		log:      log.With(logx.String("comp", "composer")),
		clk:      deps.Clock,
		settings: normalize(settings),
		sessions: map[int64]*session{},
		runCtx:   ctx,
		stopRuns: cancel,
	}
}

func normalize(s Settings) Settings {
	if s.SessionTTL <= 0 {
		s.SessionTTL = DefaultSettings().SessionTTL
	}
	if s.ProgressEvery < 0 {
		s.ProgressEvery = 0
	}
	return s
}

func (c *Composer) Apply(s Settings) {
	c.mu.Lock()
	c.settings = normalize(s)
	c.mu.Unlock()
}

func (c *Composer) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// State reports the workflow state of operator.
func (c *Composer) State(operator int64) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.lookupLocked(operator)
	if s == nil {
		return StateIdle
	}
	return s.state
}

// lookupLocked returns the live session of operator, dropping it when expired.
func (c *Composer) lookupLocked(operator int64) *session {
	s, ok := c.sessions[operator]
	if !ok {
		return nil
	}
	if s.state != StateBroadcasting && c.clk.Since(s.touched) > c.settings.SessionTTL {
		delete(c.sessions, operator)
		return nil
	}
	return s
}

func (c *Composer) transition(s *session, to State) {
	c.mu.Lock()
	s.state = to
	s.touched = c.clk.Now()
	c.mu.Unlock()
}

// Begin starts a new composition for operator, discarding any unfinished one.
func (c *Composer) Begin(ctx context.Context, chat kit.ChatTarget, operator int64) error {
	c.mu.Lock()
	if s := c.lookupLocked(operator); s != nil && s.state == StateBroadcasting {
		c.mu.Unlock()
		_, err := c.deps.UI.SendText(ctx, chat, TextAlreadyRunning, nil)
		return err
	}
	c.sessions[operator] = &session{
		operator: operator,
		chat:     chat,
		state:    StateWaitingForContent,
		touched:  c.clk.Now(),
	}
	c.mu.Unlock()

	c.log.Debug("composition started", logx.Int64("operator", operator))
	_, err := c.deps.UI.SendText(ctx, chat, TextAskContent, &kit.SendOptions{Inline: cancelKeyboard()})
	return err
}

// HandleMessage feeds an operator message into the workflow. It reports false
// when the operator has no session waiting for input.
func (c *Composer) HandleMessage(ctx context.Context, msg *kit.Message) (bool, error) {
	if msg == nil {
		return false, nil
	}
	c.mu.Lock()
	s := c.lookupLocked(msg.From.ID)
	var state State
	if s != nil {
		state = s.state
	}
	c.mu.Unlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	switch state {
	case StateWaitingForContent:
		return true, c.acceptContent(ctx, s, chat, msg)
	case StateWaitingForControlTarget:
		return true, c.acceptLink(ctx, s, chat, msg)
	case StateWaitingForControlLabel:
		return true, c.acceptLabel(ctx, s, chat, msg)
	default:
		return false, nil
	}
}

func (c *Composer) acceptContent(ctx context.Context, s *session, chat kit.ChatTarget, msg *kit.Message) error {
	if _, bad := msg.Content.(content.Unsupported); bad || msg.Content == nil || msg.AlbumID != "" {
		c.log.Debug("composed content rejected", logx.Int64("operator", s.operator), logx.String("kind", content.Summary(msg.Content)))
		_, err := c.deps.UI.SendText(ctx, chat, TextUnsupported, nil)
		return err
	}
	c.mu.Lock()
	s.item = msg.Content
	s.chat = chat
	c.mu.Unlock()
	c.transition(s, StateAskingAboutControl)

	_, err := c.deps.UI.SendText(ctx, chat, TextAskControl, &kit.SendOptions{Inline: controlKeyboard()})
	return err
}

func (c *Composer) acceptLink(ctx context.Context, s *session, chat kit.ChatTarget, msg *kit.Message) error {
	if _, ok := msg.Content.(content.Text); !ok {
		_, err := c.deps.UI.SendText(ctx, chat, TextLinkNotText, nil)
		return err
	}
	link := strings.TrimSpace(msg.Text)
	if err := content.ValidateLink(link); err != nil {
		_, serr := c.deps.UI.SendText(ctx, chat, fmt.Sprintf(TextLinkInvalid, err.Error()), nil)
		return serr
	}
	c.mu.Lock()
	s.link = link
	c.mu.Unlock()
	c.transition(s, StateWaitingForControlLabel)

	_, err := c.deps.UI.SendText(ctx, chat, TextAskLabel, nil)
	return err
}

func (c *Composer) acceptLabel(ctx context.Context, s *session, chat kit.ChatTarget, msg *kit.Message) error {
	if _, ok := msg.Content.(content.Text); !ok {
		_, err := c.deps.UI.SendText(ctx, chat, TextLabelNotText, nil)
		return err
	}
	c.mu.Lock()
	link := s.link
	c.mu.Unlock()

	ctl, err := content.NewControl(strings.Trim(msg.Text, " \t"), link)
	if err != nil {
		text := TextLabelInvalid
		if !errors.Is(err, content.ErrLabelLength) {
			text = fmt.Sprintf(TextLabelRejected, err.Error())
		}
		_, serr := c.deps.UI.SendText(ctx, chat, text, nil)
		return serr
	}
	c.mu.Lock()
	s.control = ctl
	c.mu.Unlock()
	return c.confirm(ctx, s, chat)
}

// confirm shows the operator exactly what recipients will get.
func (c *Composer) confirm(ctx context.Context, s *session, chat kit.ChatTarget) error {
	c.transition(s, StateConfirming)
	c.mu.Lock()
	item, ctl := s.item, s.control
	c.mu.Unlock()

	if _, err := c.deps.UI.SendText(ctx, chat, TextPreviewHeader, nil); err != nil {
		return err
	}
	st := c.deps.Dispatcher.Broadcast(ctx, broadcast.Request{
		Sender:     c.deps.Preview,
		Content:    item,
		Recipients: []int64{chat.ChatID},
		Control:    ctl,
		Label:      "preview:" + strconv.FormatInt(s.operator, 10),
		Operator:   s.operator,
		Preview:    true,
	})
	if st.Success == 0 {
		c.log.Warn("preview failed", logx.Int64("operator", s.operator), logx.Any("errors", st.Errors))
		if _, err := c.deps.UI.SendText(ctx, chat, TextPreviewFailed, nil); err != nil {
			return err
		}
	}
	_, err := c.deps.UI.SendText(ctx, chat, TextConfirm, &kit.SendOptions{Inline: confirmKeyboard()})
	return err
}

// HandleCallback applies a composer button press and returns the toast to
// answer it with.
func (c *Composer) HandleCallback(ctx context.Context, cb *kit.Callback, action string) (string, error) {
	if cb == nil {
		return "", nil
	}
	c.mu.Lock()
	s := c.lookupLocked(cb.From.ID)
	state := StateIdle
	if s != nil {
		state = s.state
	}
	c.mu.Unlock()

	chat := kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
	pressed := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}

	switch {
	case action == ActionCancel && state != StateIdle && state != StateBroadcasting:
		return TextCancelToast, c.cancel(ctx, s, chat, pressed)

	case action == ActionNeedButton && state == StateAskingAboutControl:
		c.transition(s, StateWaitingForControlTarget)
		c.deleteQuietly(ctx, pressed)
		_, err := c.deps.UI.SendText(ctx, chat, TextAskLink, nil)
		return "", err

	case action == ActionWithoutButton && state == StateAskingAboutControl:
		c.mu.Lock()
		s.control = nil
		c.mu.Unlock()
		return "", c.confirm(ctx, s, chat)

	case action == ActionStart && state == StateConfirming:
		c.deleteQuietly(ctx, pressed)
		return "", c.start(ctx, s, chat)

	case action == ActionStop && state == StateBroadcasting:
		c.mu.Lock()
		stop := s.stop
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		c.log.Info("broadcast stop requested", logx.Int64("operator", s.operator))
		return TextStopToast, nil

	default:
		return TextStale, nil
	}
}

func (c *Composer) cancel(ctx context.Context, s *session, chat kit.ChatTarget, pressed kit.MessageRef) error {
	c.mu.Lock()
	if c.sessions[s.operator] == s {
		delete(c.sessions, s.operator)
	}
	c.mu.Unlock()
	c.log.Debug("composition cancelled", logx.Int64("operator", s.operator))

	c.deleteQuietly(ctx, pressed)
	_, err := c.deps.UI.SendText(ctx, chat, TextCancelled, MainKeyboard())
	return err
}

func (c *Composer) deleteQuietly(ctx context.Context, ref kit.MessageRef) {
	if ref.MessageID == 0 {
		return
	}
	if err := c.deps.UI.Delete(ctx, ref); err != nil {
		c.log.Debug("delete message failed", logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

// start launches the broadcast in the background; the handler returns at once.
func (c *Composer) start(ctx context.Context, s *session, chat kit.ChatTarget) error {
	recipients, err := c.deps.Recipients.ListRecipientIDs(ctx)
	if err != nil {
		c.finishSession(s)
		c.log.Error("list recipients failed", logx.Err(err))
		_, serr := c.deps.UI.SendText(ctx, chat, fmt.Sprintf(TextRecipientsFail, err.Error()), MainKeyboard())
		return serr
	}
	if len(recipients) == 0 {
		c.finishSession(s)
		_, serr := c.deps.UI.SendText(ctx, chat, TextNoRecipients, MainKeyboard())
		return serr
	}

	runCtx, stop := context.WithCancel(c.runCtx)
	c.mu.Lock()
	settings := c.settings
	s.stop = stop
	item, ctl := s.item, s.control
	c.mu.Unlock()
	c.transition(s, StateBroadcasting)

	progress, err := c.deps.UI.SendText(ctx, chat, fmt.Sprintf(TextStarted, len(recipients)), &kit.SendOptions{Inline: stopKeyboard()})
	if err != nil {
		c.log.Warn("progress message failed", logx.Err(err))
	}

	req := broadcast.Request{
		Sender:     c.deps.Sender,
		Content:    item,
		Recipients: recipients,
		Control:    ctl,
		UseRelay:   settings.UseRelay,
		Label:      "operator:" + strconv.FormatInt(s.operator, 10),
		Operator:   s.operator,
	}
	if settings.ProgressEvery > 0 && progress.MessageID != 0 {
		req.Progress = c.progressFunc(runCtx, progress, settings.ProgressEvery)
	}

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		defer stop()
		st := c.deps.Dispatcher.Broadcast(runCtx, req)
		c.report(s, chat, progress, st)
	}()
	return nil
}

// progressFunc edits the progress message every n settled chunks.
func (c *Composer) progressFunc(ctx context.Context, ref kit.MessageRef, n int) func(broadcast.Stats) {
	chunks := 0
	return func(st broadcast.Stats) {
		chunks++
		if chunks%n != 0 || st.Done() >= st.Total {
			return
		}
		text := fmt.Sprintf(TextProgress, st.Done(), st.Total, st.Failed)
		ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := c.deps.UI.EditText(ectx, ref, text, &kit.SendOptions{Inline: stopKeyboard()}); err != nil {
			c.log.Debug("progress edit failed", logx.Err(err))
		}
	}
}

// report delivers the final count; it runs after shutdown started too, so it
// does not use the run context.
func (c *Composer) report(s *session, chat kit.ChatTarget, progress kit.MessageRef, st broadcast.Stats) {
	c.finishSession(s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf(TextFinished, st.Success, st.Total)
	if n := st.Errors[kit.ClassCancelled]; n > 0 {
		text += fmt.Sprintf(TextStopped, n)
	}
	if progress.MessageID != 0 {
		done := fmt.Sprintf(TextProgress, st.Done(), st.Total, st.Failed)
		if err := c.deps.UI.EditText(ctx, progress, done, nil); err != nil {
			c.log.Debug("progress edit failed", logx.Err(err))
		}
	}
	if _, err := c.deps.UI.SendText(ctx, chat, text, MainKeyboard()); err != nil {
		c.log.Warn("broadcast report failed", logx.Int64("operator", s.operator), logx.Err(err))
	}
}

func (c *Composer) finishSession(s *session) {
	c.mu.Lock()
	if c.sessions[s.operator] == s {
		delete(c.sessions, s.operator)
	}
	c.mu.Unlock()
}

// Sweep drops idle sessions older than the TTL and returns how many it dropped.
func (c *Composer) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range c.sessions {
		if s.state != StateBroadcasting && c.clk.Since(s.touched) > c.settings.SessionTTL {
			delete(c.sessions, id)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (c *Composer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	t := c.clk.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if n := c.Sweep(); n > 0 {
				c.log.Debug("expired sessions dropped", logx.Int("count", n))
			}
		}
	}
}

// Shutdown stops running broadcasts and waits for their reports.
func (c *Composer) Shutdown(ctx context.Context) error {
	c.stopRuns()
	done := make(chan struct{})
	go func() {
		c.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
