package httpapi

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// ipLimiter is a token bucket per client IP. Idle buckets are swept lazily.
type ipLimiter struct {
	mu        sync.Mutex
	clk       clockwork.Clock
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	cleanupAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleBucket = 10 * time.Minute

// newIPLimiter allows perMinute requests per IP per minute with an equal burst.
// perMinute <= 0 disables limiting.
func newIPLimiter(perMinute int, clk clockwork.Clock) *ipLimiter {
	l := &ipLimiter{clk: clk, buckets: map[string]*bucket{}}
	l.setRate(perMinute)
	return l
}

func (l *ipLimiter) setRate(perMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perMinute <= 0 {
		l.limit, l.burst = rate.Inf, 0
	} else {
		l.limit, l.burst = rate.Every(time.Minute/time.Duration(perMinute)), perMinute
	}
	l.buckets = map[string]*bucket{}
	l.cleanupAt = l.clk.Now().Add(idleBucket)
}

func (l *ipLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limit == rate.Inf {
		return true
	}
	now := l.clk.Now()
	if now.After(l.cleanupAt) {
		cutoff := now.Add(-idleBucket)
		for k, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
		l.cleanupAt = now.Add(idleBucket)
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *ipLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
