package broadcast

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"strings"
	"sync"

	"offerbot/internal/transport"
)

// Stats is the aggregate result of one run. Success+Failed equals Total once
// the run has returned, and the Errors values sum to Failed.
type Stats struct {
	Total   int            `json:"total"`
	Success int            `json:"success"`
	Failed  int            `json:"failed"`
	Errors  map[string]int `json:"errors"`
}

func zeroStats() Stats { return Stats{Errors: map[string]int{}} }

// Done is the number of recipients with an outcome.
func (s Stats) Done() int { return s.Success + s.Failed }

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	out := s
	out.Errors = maps.Clone(s.Errors)
	if out.Errors == nil {
		out.Errors = map[string]int{}
	}
	return out
}

// Outcome is the result of one send to one recipient.
type Outcome struct {
	Recipient int64
	Err       error
	Class     string
}

func (o Outcome) OK() bool { return o.Err == nil && o.Class == "" }

func delivered(rcpt int64) Outcome { return Outcome{Recipient: rcpt} }

func failed(rcpt int64, err error) Outcome {
	return Outcome{Recipient: rcpt, Err: err, Class: Classify(err)}
}

func failedAs(rcpt int64, class string, err error) Outcome {
	return Outcome{Recipient: rcpt, Err: err, Class: class}
}

// collector is the lock-protected accumulator shared by a run's send goroutines.
type collector struct {
	mu sync.Mutex
	s  Stats
}

func newCollector(total int) *collector {
	s := zeroStats()
	s.Total = total
	return &collector{s: s}
}

func (c *collector) record(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.OK() {
		c.s.Success++
		return
	}
	c.s.Failed++
	c.s.Errors[o.Class]++
}

func (c *collector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.Clone()
}

var errUnsupported = errors.New("content kind cannot be delivered")

// Classify maps a send error to a stable class name. Adapter errors carry
// their own class; anything else falls back to the error's Go type name.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var te *transport.Error
	if errors.As(err, &te) && te.Class != "" {
		return te.Class
	}
	switch {
	case errors.Is(err, errUnsupported):
		return transport.ClassUnsupported
	case errors.Is(err, context.Canceled):
		return transport.ClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return transport.ClassTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return transport.ClassTimeout
		}
		return transport.ClassNetwork
	}
	return typeName(err)
}

func typeName(err error) string {
	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "error"
	}
	return name
}
