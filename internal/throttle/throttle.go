// Package throttle limits login attempts per client key.
package throttle

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	idleExpiration  = 10 * time.Minute
	cleanupInterval = 15 * time.Minute
)

// Limiter hands out one token bucket per key. Buckets of idle keys expire
// from the cache, so a returning client starts with a full burst.
type Limiter struct {
	mu      sync.Mutex
	buckets *cache.Cache
	limit   rate.Limit
	burst   int
}

// New allows perMinute attempts per key with the given burst. A perMinute
// of zero or less returns nil, and a nil Limiter allows everything.
func New(perMinute, burst int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		buckets: cache.New(idleExpiration, cleanupInterval),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
	}
}

// Allow reports whether key may make another attempt now.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.buckets.SetDefault(key, lim)
	return lim
}
