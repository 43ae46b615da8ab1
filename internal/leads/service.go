// Package leads records offer confirmations and fans them out to the
// configured notification adapters.
package leads

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"offerbot/internal/eventbus"
	"offerbot/internal/metrics"
	"offerbot/internal/storage"
	logx "offerbot/pkg/logx"
)

// EventRecorded is published for every new, non-duplicate lead.
const EventRecorded = "lead.recorded"

// Recorded is the payload of EventRecorded.
type Recorded struct {
	Confirmation storage.Confirmation
}

// Notifier is one fan-out target (spreadsheet, email, webhook, amqp).
type Notifier interface {
	Name() string
	Notify(ctx context.Context, c storage.Confirmation) error
}

type Store interface {
	SaveConfirmation(ctx context.Context, c storage.Confirmation) (int64, bool, error)
}

// Result is what a submission produced.
type Result struct {
	ID        int64
	Duplicate bool
}

type Service struct {
	store Store
	bus   eventbus.Bus
	clk   clockwork.Clock
	log   logx.Logger

	mu        sync.RWMutex
	notifiers []Notifier
	timeout   time.Duration

	inflight sync.WaitGroup
}

type Option func(*Service)

func WithBus(b eventbus.Bus) Option            { return func(s *Service) { s.bus = b } }
func WithClock(c clockwork.Clock) Option       { return func(s *Service) { s.clk = c } }
func WithLogger(log logx.Logger) Option        { return func(s *Service) { s.log = log } }
func WithNotifiers(n ...Notifier) Option       { return func(s *Service) { s.notifiers = n } }
func WithNotifyTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, timeout: 15 * time.Second}
	for _, o := range opts {
		o(s)
	}
	if s.clk == nil {
		s.clk = clockwork.NewRealClock()
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "leads"))
	return s
}

// SetNotifiers swaps the fan-out targets; submissions already fanning out keep theirs.
func (s *Service) SetNotifiers(n ...Notifier) {
	s.mu.Lock()
	s.notifiers = n
	s.mu.Unlock()
}

func (s *Service) SetNotifyTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Submit persists in and, unless it duplicates a recent lead, fans it out in
// the background. Only a persistence failure is returned.
func (s *Service) Submit(ctx context.Context, in Input) (Result, error) {
	log := s.log.With(logx.String("email", in.Email), logx.String("payment_type", in.PaymentType))
	for _, w := range in.Warnings {
		log.Warn("lead payload coerced", logx.String("detail", w))
	}

	c := storage.Confirmation{
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		Email:            in.Email,
		PaymentType:      in.PaymentType,
		ConfirmedAt:      s.clk.Now().UTC(),
		IPAddress:        in.IP,
		UserAgent:        in.UserAgent,
		TelegramUserID:   in.TelegramUserID,
		TelegramUsername: in.TelegramUsername,
		AdditionalData:   additionalJSON(in.Additional),
	}
	id, dup, err := s.store.SaveConfirmation(ctx, c)
	if err != nil {
		metrics.LeadsTotal.WithLabelValues("error").Inc()
		log.Error("save confirmation failed", logx.Err(err))
		return Result{}, fmt.Errorf("save confirmation: %w", err)
	}
	c.ID = id
	if dup {
		metrics.LeadsTotal.WithLabelValues("duplicate").Inc()
		log.Info("duplicate confirmation, fan-out skipped", logx.Int64("id", id))
		return Result{ID: id, Duplicate: true}, nil
	}

	metrics.LeadsTotal.WithLabelValues("recorded").Inc()
	log.Info("confirmation saved", logx.Int64("id", id))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventRecorded, Data: Recorded{Confirmation: c}})
	}
	s.fanOut(ctx, c)
	return Result{ID: id}, nil
}

// fanOut runs every notifier independently. The request context only
// contributes values; cancellation of the HTTP request does not stop it.
func (s *Service) fanOut(ctx context.Context, c storage.Confirmation) {
	s.mu.RLock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	timeout := s.timeout
	s.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, n := range notifiers {
		s.inflight.Add(1)
		go func(n Notifier) {
			defer s.inflight.Done()
			s.notify(base, n, c, timeout)
		}(n)
	}
}

func (s *Service) notify(ctx context.Context, n Notifier, c storage.Confirmation, timeout time.Duration) {
	name := n.Name()
	log := s.log.With(logx.String("notifier", name), logx.Int64("id", c.ID))
	start := s.clk.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.NotifierTotal.WithLabelValues(name, "panic").Inc()
			log.Error("notifier panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := n.Notify(nctx, c)
	metrics.NotifierDuration.WithLabelValues(name).Observe(s.clk.Since(start).Seconds())
	if err != nil {
		metrics.NotifierTotal.WithLabelValues(name, "error").Inc()
		log.Warn("notification failed", logx.Err(err))
		return
	}
	metrics.NotifierTotal.WithLabelValues(name, "ok").Inc()
	log.Debug("notification sent")
}

// Wait blocks until background notifications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
