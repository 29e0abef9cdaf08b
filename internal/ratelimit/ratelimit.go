package ratelimit

import (
	"sync"
	"time"
)

// Token bucket refilled at rate tokens per second up to burst
type Limiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	now    func() time.Time
	mu     sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiter(rate, burst, time.Now)
}

func newLimiter(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.now()
	l.tokens += t.Sub(l.last).Seconds() * l.rate
	l.last = t
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens < float64(n) {
		return false
	}
	l.tokens -= float64(n)
	return true
}

// Keyed limiters, e.g. one per remote address. Idle entries are swept
// once they have had time to refill completely.
type Group struct {
	rate     float64
	burst    int
	idle     time.Duration
	now      func() time.Time
	limiters map[string]*groupEntry
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
}

type groupEntry struct {
	limiter *Limiter
	seen    time.Time
}

func NewGroup(rate float64, burst int) *Group {
	g := newGroup(rate, burst, time.Now)
	go g.sweepLoop(time.Minute)
	return g
}

func newGroup(rate float64, burst int, now func() time.Time) *Group {
	idle := time.Minute
	if rate > 0 {
		if refill := time.Duration(float64(burst) / rate * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &Group{
		rate:     rate,
		burst:    burst,
		idle:     idle,
		now:      now,
		limiters: make(map[string]*groupEntry),
		stop:     make(chan struct{}),
	}
}

// Allow takes a token from key's bucket.
func (g *Group) Allow(key string) bool {
	g.mu.Lock()
	e, ok := g.limiters[key]
	if !ok {
		e = &groupEntry{limiter: newLimiter(g.rate, g.burst, g.now)}
		g.limiters[key] = e
	}
	e.seen = g.now()
	g.mu.Unlock()

	return e.limiter.Allow()
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}

func (g *Group) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Group) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.idle)
	for key, e := range g.limiters {
		if e.seen.Before(cutoff) {
			delete(g.limiters, key)
		}
	}
}

func (g *Group) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}
