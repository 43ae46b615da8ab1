package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"offerbot/internal/content"
	"offerbot/internal/eventbus"
	"offerbot/internal/metrics"
	"offerbot/internal/transport"
	logx "offerbot/pkg/logx"
)

// EventFinished is published on the bus after every run that started sending.
const EventFinished = "broadcast.finished"

// NoThrottle as Request.ThrottleDelay sends chunks back to back.
const NoThrottle time.Duration = -1

// Delivery selects how relayed content reaches recipients.
type Delivery string

const (
	// DeliveryResend sends the relayed content by the target identity's file id.
	DeliveryResend Delivery = "resend"
	// DeliveryCopy copies the relay message.
	DeliveryCopy Delivery = "copy"
)

// Options are the run defaults. Zero request fields fall back to these.
type Options struct {
	ThrottleDelay time.Duration
	ChunkSize     int
	Delivery      Delivery
	// SendTimeout bounds one platform call. 0 leaves it to the transport.
	SendTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		ThrottleDelay: 50 * time.Millisecond,
		ChunkSize:     100,
		Delivery:      DeliveryResend,
	}
}

// Request describes one run.
type Request struct {
	Sender     Bot
	Content    content.Item
	Recipients []int64
	Control    *content.Control
	// UseRelay re-creates Content under the relay's target identity first.
	UseRelay bool
	// ThrottleDelay, ChunkSize and Delivery override the dispatcher options
	// for this run. Zero values keep the configured option; NoThrottle
	// disables the inter-chunk pause.
	ThrottleDelay time.Duration
	ChunkSize     int
	Delivery      Delivery
	// Progress, when set, is called after each settled chunk.
	Progress func(Stats)
	// Label identifies the run in logs (e.g. the operator id).
	Label string
	// Operator is the chat that started the run, 0 when unknown.
	Operator int64
	// Preview marks a single-recipient dry run for the operator.
	Preview bool
}

// Finished is the payload of EventFinished.
type Finished struct {
	RunID    string
	Label    string
	Operator int64
	Preview  bool
	Stats    Stats
	Duration time.Duration
}

type Dispatcher struct {
	limiter *Limiter
	relay   *Relay
	clock   clockwork.Clock
	bus     eventbus.Bus
	log     logx.Logger

	mu   sync.RWMutex
	opts Options
}

type Option func(*Dispatcher)

func WithClock(c clockwork.Clock) Option { return func(d *Dispatcher) { d.clock = c } }
func WithBus(b eventbus.Bus) Option      { return func(d *Dispatcher) { d.bus = b } }
func WithLogger(log logx.Logger) Option  { return func(d *Dispatcher) { d.log = log } }
func WithOptions(o Options) Option       { return func(d *Dispatcher) { d.opts = o } }
func WithRelay(r *Relay) Option          { return func(d *Dispatcher) { d.relay = r } }

func NewDispatcher(lim *Limiter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		limiter: lim,
		opts:    DefaultOptions(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.limiter == nil {
		d.limiter = NewLimiter(DefaultPermits)
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	return d
}

// Apply replaces run defaults; runs already in progress keep theirs.
func (d *Dispatcher) Apply(o Options) {
	d.mu.Lock()
	d.opts = o
	d.mu.Unlock()
}

func (d *Dispatcher) Options() Options {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

func (d *Dispatcher) Limiter() *Limiter { return d.limiter }

// Broadcast attempts delivery of req.Content to every recipient and returns
// the aggregate. It never fails as a whole: per-recipient errors are counted,
// a failed relay yields all-zero stats, and cancellation counts every
// recipient not yet attempted as Cancelled.
func (d *Dispatcher) Broadcast(ctx context.Context, req Request) Stats {
	n := len(req.Recipients)
	if n == 0 {
		return zeroStats()
	}
	opt := d.resolve(req)
	runID := uuid.NewString()
	log := d.log.With(logx.String("run_id", runID))
	if req.Label != "" {
		log = log.With(logx.String("label", req.Label))
	}
	start := d.clock.Now()

	if _, bad := req.Content.(content.Unsupported); bad || req.Content == nil {
		col := newCollector(n)
		for _, rcpt := range req.Recipients {
			col.record(failedAs(rcpt, transport.ClassUnsupported, errUnsupported))
		}
		metrics.BroadcastSendsTotal.WithLabelValues("failed", transport.ClassUnsupported).Add(float64(n))
		log.Warn("broadcast content unsupported", logx.String("kind", content.Summary(req.Content)), logx.Int("total", n))
		return d.finish(log, runID, req, "unsupported", col.snapshot(), start)
	}

	send, ok := d.sendFunc(ctx, log, req, opt)
	if !ok {
		metrics.BroadcastRunsTotal.WithLabelValues("aborted").Inc()
		log.Warn("broadcast aborted before sending", logx.Int("total", n))
		return zeroStats()
	}

	chunks := chunk(req.Recipients, opt.ChunkSize)
	log.Info("broadcast started",
		logx.Int("total", n),
		logx.Int("chunks", len(chunks)),
		logx.Int("permits", d.limiter.Capacity()),
		logx.Duration("throttle", opt.ThrottleDelay),
		logx.String("delivery", string(opt.Delivery)),
	)

	col := newCollector(n)
	pause := opt.ThrottleDelay * time.Duration(opt.ChunkSize)
	attempted := 0
	outcome := "completed"

loop:
	for i, part := range chunks {
		if i > 0 && pause > 0 {
			select {
			case <-ctx.Done():
				break loop
			case <-d.clock.After(pause):
			}
		}
		if ctx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		for _, rcpt := range part {
			release, err := d.limiter.Acquire(ctx)
			if err != nil {
				break
			}
			attempted++
			wg.Add(1)
			go func(rcpt int64) {
				defer wg.Done()
				defer release()
				o := d.sendOne(ctx, send, rcpt, opt.SendTimeout)
				col.record(o)
				if !o.OK() {
					log.Warn("broadcast send failed", logx.Int64("recipient", rcpt), logx.String("class", o.Class), logx.Err(o.Err))
				}
			}(rcpt)
		}
		wg.Wait()

		if req.Progress != nil {
			req.Progress(col.snapshot())
		}
	}

	if attempted < n {
		outcome = "cancelled"
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		for _, rcpt := range req.Recipients[attempted:] {
			col.record(failedAs(rcpt, transport.ClassCancelled, cause))
		}
		metrics.BroadcastSendsTotal.WithLabelValues("failed", transport.ClassCancelled).Add(float64(n - attempted))
		log.Warn("broadcast cancelled", logx.Int("attempted", attempted), logx.Int("total", n))
	}

	return d.finish(log, runID, req, outcome, col.snapshot(), start)
}

// sendFunc resolves what each recipient receives. With a relay the content
// is re-created once under the relay target and sent from there.
func (d *Dispatcher) sendFunc(ctx context.Context, log logx.Logger, req Request, opt Options) (func(ctx context.Context, chatID int64) error, bool) {
	sender, item := req.Sender, req.Content
	bare := false
	if t, ok := item.(content.Text); ok && t.Bare {
		bare = true
	}

	if req.UseRelay && !bare {
		if d.relay == nil {
			log.Warn("broadcast relay requested but not configured")
			return nil, false
		}
		h, ok := d.relay.Relay(ctx, item)
		if !ok {
			return nil, false
		}
		sender = d.relay.Target()
		if opt.Delivery == DeliveryCopy || !resendable(h.Content) {
			return func(ctx context.Context, chatID int64) error {
				return sender.CopyContent(ctx, chatID, h.Ref, req.Control)
			}, true
		}
		item = h.Content
	}

	if sender == nil {
		log.Warn("broadcast has no sender")
		return nil, false
	}
	return func(ctx context.Context, chatID int64) error {
		_, err := sender.SendContent(ctx, chatID, item, req.Control)
		return err
	}, true
}

// resendable reports whether it can be sent again without the relay message.
func resendable(it content.Item) bool {
	if it == nil {
		return false
	}
	if m, ok := content.MediaOf(it); ok {
		return m.FileID != ""
	}
	return it.Kind() == content.KindText
}

// sendOne isolates one recipient. In-flight sends are detached from run
// cancellation so a stop request lets them settle.
func (d *Dispatcher) sendOne(ctx context.Context, send func(context.Context, int64) error, rcpt int64, timeout time.Duration) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = failedAs(rcpt, transport.ClassPanic, fmt.Errorf("panic: %v", r))
		}
		if o.OK() {
			metrics.BroadcastSendsTotal.WithLabelValues("ok", "").Inc()
		} else {
			metrics.BroadcastSendsTotal.WithLabelValues("failed", o.Class).Inc()
		}
	}()

	sctx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, timeout)
		defer cancel()
	}
	if err := send(sctx, rcpt); err != nil {
		return failed(rcpt, err)
	}
	return delivered(rcpt)
}

func (d *Dispatcher) finish(log logx.Logger, runID string, req Request, outcome string, st Stats, start time.Time) Stats {
	dur := d.clock.Since(start)
	metrics.BroadcastRunsTotal.WithLabelValues(outcome).Inc()
	metrics.BroadcastRunDuration.Observe(dur.Seconds())

	fields := []logx.Field{
		logx.String("result", fmt.Sprintf("%d/%d", st.Success, st.Total)),
		logx.Int("failed", st.Failed),
		logx.Any("errors", st.Errors),
		logx.Duration("dur", dur),
	}
	if st.Failed > 0 {
		log.Warn("broadcast finished", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}

	if d.bus != nil {
		d.bus.Publish(eventbus.Event{
			Type: EventFinished,
			Data: Finished{
				RunID:    runID,
				Label:    req.Label,
				Operator: req.Operator,
				Preview:  req.Preview,
				Stats:    st.Clone(),
				Duration: dur,
			},
		})
	}
	return st
}

func (d *Dispatcher) resolve(req Request) Options {
	opt := d.Options()
	switch {
	case req.ThrottleDelay == NoThrottle:
		opt.ThrottleDelay = 0
	case req.ThrottleDelay > 0:
		opt.ThrottleDelay = req.ThrottleDelay
	}
	if req.ChunkSize > 0 {
		opt.ChunkSize = req.ChunkSize
	}
	if req.Delivery != "" {
		opt.Delivery = req.Delivery
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultOptions().ChunkSize
	}
	if opt.Delivery == "" {
		opt.Delivery = DeliveryResend
	}
	return opt
}

func chunk(ids []int64, size int) [][]int64 {
	out := make([][]int64, 0, (len(ids)+size-1)/size)
	for size < len(ids) {
		ids, out = ids[size:], append(out, ids[:size:size])
	}
	return append(out, ids)
}
