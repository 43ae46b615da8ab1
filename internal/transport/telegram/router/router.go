package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"offerbot/internal/runtime/supervisor"
	kit "offerbot/internal/transport"
	logx "offerbot/pkg/logx"
	"offerbot/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

// Request is one routed update.
type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	From     kit.User
	Message  *kit.Message
	Callback *kit.Callback
	// Command is the matched route key ("/start", "text", "cb:bc:start").
	Command string
	Args    []string
	// Action and Payload are the callback data parts after the prefix.
	Action  string
	Payload string
	ReqID   string
	IsAdmin bool

	Adapter kit.Adapter
	Logger  logx.Logger

	answered bool
}

// Reply sends text to the chat the update came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return r.Adapter.SendText(ctx, r.Chat, text, opt)
}

// Answer acknowledges the callback with a toast. The router answers with no
// text after the handler when Answer was not called.
func (r *Request) Answer(ctx context.Context, text string) error {
	if r.Callback == nil || r.answered {
		return nil
	}
	r.answered = true
	return r.Adapter.AnswerCallback(ctx, r.Callback.ID, text)
}

type route struct {
	key    string
	access Access
	handle HandlerFunc
}

// Router dispatches updates from one bot identity to handlers. Updates of the
// same chat are handled in arrival order by a single worker.
type Router struct {
	name    string
	log     logx.Logger
	adapter kit.Adapter

	mu        sync.RWMutex
	isAdmin   func(userID int64) bool
	commands  map[string]route
	texts     map[string]route
	callbacks map[string]route // "prefix" or "prefix:action"
	fallback  *route

	workers  int
	queueCap int
	timeout  time.Duration
	denied   string
}

type Option func(*Router)

// WithWorkers sets the number of chat-sharded workers. Default 4.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueue sets each worker's queue capacity. Default 64.
func WithQueue(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.queueCap = n
		}
	}
}

// WithTimeout bounds every handler call. Zero disables it.
func WithTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

// WithAdmins sets the predicate used for AccessAdmin routes.
func WithAdmins(fn func(userID int64) bool) Option { return func(r *Router) { r.isAdmin = fn } }

// WithDeniedText is the callback toast shown to non-admins.
func WithDeniedText(s string) Option { return func(r *Router) { r.denied = s } }

func New(name string, adapter kit.Adapter, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		name:      name,
		log:       log.With(logx.String("comp", "router"), logx.String("bot", name)),
		adapter:   adapter,
		isAdmin:   func(int64) bool { return false },
		commands:  map[string]route{},
		texts:     map[string]route{},
		callbacks: map[string]route{},
		workers:   4,
		queueCap:  64,
		timeout:   30 * time.Second,
		denied:    "forbidden",
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetAdmins swaps the admin predicate; safe during hot reload.
func (r *Router) SetAdmins(fn func(userID int64) bool) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.isAdmin = fn
	r.mu.Unlock()
}

// Command routes "/name" (with optional @bot suffix and arguments).
func (r *Router) Command(name string, access Access, h HandlerFunc) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
	r.mu.Lock()
	r.commands[name] = route{key: "/" + name, access: access, handle: h}
	r.mu.Unlock()
}

// Text routes messages whose trimmed text equals text exactly (reply keyboard buttons).
func (r *Router) Text(text string, access Access, h HandlerFunc) {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	r.texts[text] = route{key: "text:" + text, access: access, handle: h}
	r.mu.Unlock()
}

// Callback routes callback data "prefix:action[:payload]". An empty action
// matches every action under prefix.
func (r *Router) Callback(prefix, action string, access Access, h HandlerFunc) {
	key := prefix
	if action != "" {
		key = prefix + ":" + action
	}
	r.mu.Lock()
	r.callbacks[key] = route{key: "cb:" + key, access: access, handle: h}
	r.mu.Unlock()
}

// Fallback receives messages no other route matched.
func (r *Router) Fallback(access Access, h HandlerFunc) {
	r.mu.Lock()
	r.fallback = &route{key: "fallback", access: access, handle: h}
	r.mu.Unlock()
}

// Run consumes updates until ctx is done or updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)
	queues := make([]chan func(context.Context), r.workers)
	for i := range queues {
		q := make(chan func(context.Context), r.queueCap)
		queues[i] = q
		sup.GoRestart("router.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-q:
					job(c)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("router started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queueCap))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			req, rt, ok := r.match(up)
			if !ok {
				continue
			}
			job := r.job(req, rt)
			q := queues[shard(req.Chat.ChatID, len(queues))]
			select {
			case q <- job:
			default:
				r.log.Warn("router queue full, update dropped", logx.Int64("chat_id", req.Chat.ChatID), logx.String("cmd", req.Command))
				if req.Callback != nil {
					_ = r.adapter.AnswerCallback(ctx, req.Callback.ID, "busy")
				}
			}
		}
	}
}

func shard(chatID int64, n int) int {
	if chatID < 0 {
		chatID = -chatID
	}
	return int(chatID % int64(n))
}

// match resolves the route for up. ok is false when nothing handles it.
func (r *Router) match(up kit.Update) (*Request, route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req := &Request{Update: up, Adapter: r.adapter, ReqID: newReqID()}
	var (
		rt    route
		found bool
	)
	switch up.Kind {
	case kit.UpdateMessage:
		msg := up.Message
		if msg == nil {
			return nil, route{}, false
		}
		req.Message = msg
		req.From = msg.From
		req.Chat = kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
		text := strings.TrimSpace(msg.Text)
		if name, args, isCmd := parseCommand(text); isCmd {
			rt, found = r.commands[name]
			req.Args = args
		}
		if !found && text != "" {
			rt, found = r.texts[text]
		}
		if !found && r.fallback != nil {
			rt, found = *r.fallback, true
		}
	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, route{}, false
		}
		req.Callback = cb
		req.From = cb.From
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		prefix, action, payload, ok := tgui.SplitData(cb.Data)
		if !ok {
			// Bare data such as "cancel_sending" routes as a prefix.
			prefix, action = strings.TrimSpace(cb.Data), ""
		}
		req.Action, req.Payload = action, payload
		if rt, found = r.callbacks[prefix+":"+action]; !found {
			rt, found = r.callbacks[prefix]
		}
	}
	if !found {
		return nil, route{}, false
	}
	req.Command = rt.key
	req.IsAdmin = r.isAdmin(req.From.ID)
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.From.ID),
		logx.String("cmd", rt.key),
	)
	return req, rt, true
}

func (r *Router) job(req *Request, rt route) func(context.Context) {
	return func(ctx context.Context) {
		final := Chain(rt.handle,
			observe(r.name),
			recoverPanic(),
			gate(rt.access, r.denied),
			deadline(r.timeout),
		)
		_ = final(ctx, req)
		// Stop the client's loading spinner.
		_ = req.Answer(ctx, "")
	}
}

// parseCommand splits "/start@bot a b" into ("start", [a b]).
func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	word := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), fields[1:], true
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
