// Package scheduler triggers named jobs on cron schedules. A job never
// overlaps itself: a tick that finds the previous run still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "offerbot/pkg/logx"
)

type Job func(ctx context.Context) error

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	id      cron.EntryID
	running atomic.Bool
	skipped atomic.Uint64
}

// Info describes one registered schedule.
type Info struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Skipped uint64
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*entry

	base   context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// New builds a stopped scheduler. An empty or unknown tz means UTC.
func New(tz string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		} else {
			log.Warn("unknown timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		}
	}
	return &Service{
		log: log.With(logx.String("comp", "scheduler")),
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*entry{},
	}
}

// Add registers job under name, replacing a schedule with the same name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	sp, err := ParseSpec(schedule)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(sp.Cron); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	e := &entry{name: name, spec: sp.Cron, timeout: timeout, job: job}
	s.defs[name] = e
	if s.c != nil {
		return s.registerLocked(e)
	}
	return nil
}

// Remove drops the schedule called name. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	e, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && e.id != 0 {
		s.c.Remove(e.id)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) registerLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() { s.fire(e) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", e.name), logx.String("spec", e.spec), logx.Err(err))
		return err
	}
	e.id = id
	s.log.Debug("schedule registered", logx.String("name", e.name), logx.String("spec", e.spec), logx.Duration("timeout", e.timeout))
	return nil
}

func (s *Service) fire(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.log.Warn("schedule skipped, previous run still active", logx.String("name", e.name))
		return
	}
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()
	if base == nil {
		e.running.Store(false)
		return
	}
	s.runs.Add(1)
	defer s.runs.Done()
	defer e.running.Store(false)
	s.run(base, e)
}

// RunNow executes the named job once, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %q not found", name)
	}
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("schedule %q already running", name)
	}
	defer e.running.Store(false)
	return s.run(ctx, e)
}

func (s *Service) run(ctx context.Context, e *entry) (err error) {
	start := time.Now()
	log := s.log.With(logx.String("name", e.name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled job panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	err = e.job(ctx)
	if err != nil {
		log.Warn("scheduled job failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	log.Debug("scheduled job done", logx.Duration("took", time.Since(start)))
	return nil
}

// Start begins triggering. Jobs run with contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.base, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, e := range s.defs {
		_ = s.registerLocked(e)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.base, s.cancel = nil, nil, nil
	for _, e := range s.defs {
		e.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Schedules lists registered schedules with their next and previous fire times.
func (s *Service) Schedules() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.defs))
	for _, e := range s.defs {
		info := Info{Name: e.name, Spec: e.spec, Skipped: e.skipped.Load()}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	return out
}
