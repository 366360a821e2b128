// Package ratelimit implements a token bucket limiter keyed by client, used
// to keep a single caller from monopolizing the fetch pool.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages per-client token buckets. Buckets are created lazily and
// pruned after a period of inactivity so the map does not grow without
// bound under churning client addresses.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	defaultRate  rate.Limit
	defaultBurst int
	idleTTL      time.Duration
	now          func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the sustained request rate per client. Zero or
	// negative disables limiting.
	DefaultRPS float64
	// DefaultBurst is the bucket depth; at least 1.
	DefaultBurst int
	// IdleTTL is how long an unused bucket survives before Prune evicts
	// it; default 10 minutes.
	IdleTTL time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		defaultRate:  r,
		defaultBurst: burst,
		idleTTL:      idle,
		now:          time.Now,
	}
}

// Allow reports whether the client identified by key may proceed now. It
// never blocks; a denied request should be answered with 429.
func (l *Limiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}
	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{limiter: rate.NewLimiter(l.defaultRate, l.defaultBurst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

// Prune evicts buckets idle longer than the TTL and returns the count.
func (l *Limiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	var evicted int
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			evicted++
		}
	}
	return evicted
}
