// Package ratelimit keeps one token bucket per upstream provider so that
// low-quota APIs are spread across the day instead of exhausted at startup.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New() *Limiter { return &Limiter{limiters: make(map[string]*rate.Limiter)} }

// Register installs a bucket for key refilling perDay tokens evenly over 24h.
// perDay <= 0 leaves key unthrottled.
func (l *Limiter) Register(key string, perDay, burst int) {
	if perDay <= 0 {
		return
	}
	if burst < 1 {
		burst = 1
	}
	every := 24 * time.Hour / time.Duration(perDay)

	l.mu.Lock()
	l.limiters[key] = rate.NewLimiter(rate.Every(every), burst)
	l.mu.Unlock()
}

// Allow consumes one token for key without blocking. Unregistered keys always pass.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	l.mu.Unlock()
	if !ok {
		return true
	}
	return lim.Allow()
}

// Tokens reports the tokens currently available for key, -1 when unthrottled.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	l.mu.Unlock()
	if !ok {
		return -1
	}
	return lim.Tokens()
}
