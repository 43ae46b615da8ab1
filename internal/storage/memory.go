package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local Store used by tests and by driver "memory".
type Memory struct {
	mu      sync.Mutex
	closed  bool
	window  time.Duration
	clients []Client
	byUser  map[int64]struct{}
	leads   []Confirmation
	nextID  int64
	now     func() time.Time
}

func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = defaultDedupWindow
	}
	return &Memory{window: window, byUser: map[int64]struct{}{}, now: nowUTC}
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) AddClient(_ context.Context, c Client) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, ok := m.byUser[c.UserID]; ok {
		return false, nil
	}
	if c.RegDate.IsZero() {
		c.RegDate = m.now()
	}
	m.byUser[c.UserID] = struct{}{}
	m.clients = append(m.clients, c)
	return true, nil
}

func (m *Memory) IsClient(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.byUser[userID]
	return ok, nil
}

func (m *Memory) ListRecipientIDs(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c.UserID)
	}
	return out, nil
}

func (m *Memory) ListClients(_ context.Context, limit int) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return newestFirst(m.clients, clampLimit(limit)), nil
}

func (m *Memory) SaveConfirmation(_ context.Context, c Confirmation) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	if c.ConfirmedAt.IsZero() {
		c.ConfirmedAt = m.now()
	}
	since := c.ConfirmedAt.Add(-m.window)
	for i := len(m.leads) - 1; i >= 0; i-- {
		old := m.leads[i]
		if strings.EqualFold(old.Email, c.Email) && old.PaymentType == c.PaymentType && !old.ConfirmedAt.Before(since) {
			return old.ID, true, nil
		}
	}
	m.nextID++
	c.ID = m.nextID
	m.leads = append(m.leads, c)
	return c.ID, false, nil
}

func (m *Memory) ListConfirmations(_ context.Context, limit int) ([]Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return newestFirst(m.leads, clampLimit(limit)), nil
}

func (m *Memory) AllConfirmations(context.Context) ([]Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.leads), nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{ByPaymentType: map[string]int{}}
	if m.closed {
		return st, ErrClosed
	}
	today := startOfDay(m.now())
	st.Clients = len(m.clients)
	st.Confirmations = len(m.leads)
	for _, l := range m.leads {
		if !l.ConfirmedAt.Before(today) {
			st.ConfirmationsToday++
		}
		st.ByPaymentType[l.PaymentType]++
	}
	return st, nil
}

func newestFirst[T any](in []T, limit int) []T {
	out := slices.Clone(in)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
