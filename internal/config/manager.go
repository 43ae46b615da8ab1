package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "offerbot/pkg/logx"
)

const (
	defaultDebounce = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

var errWatcherClosed = errors.New("watcher closed")

// Manager owns the committed config. Reloads are parsed, overlaid with the
// environment, validated and diffed before they replace it; subscribers get
// the resulting Change rather than a bare config.
type Manager struct {
	path     string
	env      *Env
	debounce time.Duration
	checks   []func(*Config) error

	mu   sync.RWMutex
	cfg  *Config
	hash uint64
	log  logx.Logger

	subsMu sync.Mutex
	subs   map[chan Change]struct{}
}

type ManagerOption func(*Manager)

// WithEnv installs the environment overlay re-applied on every parse.
func WithEnv(env *Env) ManagerOption { return func(m *Manager) { m.env = env } }

// WithCheck adds a validation step run after Validate on every reload.
func WithCheck(fn func(*Config) error) ManagerOption {
	return func(m *Manager) { m.checks = append(m.checks, fn) }
}

func WithDebounce(d time.Duration) ManagerOption { return func(m *Manager) { m.debounce = d } }

func NewManager(path string, opts ...ManagerOption) *Manager {
	m := &Manager{path: path, debounce: defaultDebounce, subs: map[chan Change]struct{}{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *Manager) logger() logx.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.log.IsZero() {
		return logx.Nop()
	}
	return m.log
}

// Parse reads the file, decodes it strictly and applies env and defaults.
// It does not validate or commit.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	doc, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(m.path), err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%s: trailing data after config document", filepath.Base(m.path))
	}
	if m.env != nil {
		m.env.Apply(&cfg)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (m *Manager) validate(cfg *Config) error {
	errs := []error{Validate(cfg)}
	for _, check := range m.checks {
		errs = append(errs, check(cfg))
	}
	return errors.Join(errs...)
}

// Load parses, validates and commits the initial config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := m.validate(cfg); err != nil {
		return nil, err
	}
	m.commit(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config, h uint64) *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.cfg
	m.cfg, m.hash = cfg, h
	return prev
}

// Reload re-reads the file and, when it is valid and differs from the
// committed config in at least one section, commits it and notifies
// subscribers. A rejected file leaves the committed config in place.
func (m *Manager) Reload() (Change, error) {
	cfg, err := m.Parse()
	if err != nil {
		return Change{}, err
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	same := h != 0 && h == m.hash
	current := m.cfg
	m.mu.RUnlock()
	if same {
		return Change{Prev: current, Next: current}, nil
	}
	if err := m.validate(cfg); err != nil {
		return Change{}, fmt.Errorf("config rejected: %w", err)
	}

	ch := Diff(current, cfg)
	prev := m.commit(cfg, h)
	ch.Prev = prev
	if !ch.Empty() {
		m.publish(ch)
	}
	return ch, nil
}

// Subscribe returns a channel of committed changes and its cancel func.
func (m *Manager) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.subsMu.Unlock()
		})
	}
}

// publish never blocks. A full subscriber has its oldest pending change
// folded into the new one, so no section difference is lost.
func (m *Manager) publish(c Change) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- c:
			continue
		default:
		}
		merged := c
		select {
		case old := <-ch:
			merged = old.Then(c)
		default:
		}
		select {
		case ch <- merged:
		default:
			m.logger().Warn("config change dropped for slow subscriber")
		}
	}
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// Watch reloads on file events in the config directory until ctx is done.
// Bursts of events are debounced and a broken watcher is recreated with
// exponential backoff.
func (m *Manager) Watch(ctx context.Context) error {
	backoff := watchBackoffMin
	for {
		started, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = watchBackoffMin
		}
		m.logger().Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchBackoffMax)
	}
}

func (m *Manager) watchOnce(ctx context.Context) (bool, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	// Editors replace files by rename, so the directory is watched.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return false, err
	}
	file := filepath.Base(m.path)
	log := m.logger()
	log.Debug("config watcher started", logx.String("path", m.path))

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errWatcherClosed
			}
			if filepath.Base(ev.Name) == file && !ev.Has(fsnotify.Chmod) {
				timer.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true, errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				log.Warn("config watch overflow; forcing reload")
				timer.Reset(m.debounce)
				continue
			}
			log.Warn("config watch error", logx.Err(err))
		case <-timer.C:
			m.reloadLogged(log)
		}
	}
}

func (m *Manager) reloadLogged(log logx.Logger) {
	ch, err := m.Reload()
	switch {
	case err != nil:
		log.Warn("config reload failed; keeping current", logx.String("path", m.path), logx.Err(err))
	case ch.Empty():
		log.Debug("config unchanged", logx.String("path", m.path))
	default:
		log.Debug("config committed", logx.Strings("sections", ch.Sections), logx.Strings("restart", ch.Restart))
	}
}
