package memory

import (
	"context"
	"sync"
	"time"

	"github.com/imobcrm/wagate/internal/pkg/ratelimiter"
)

type window struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter é o limiter padrão quando o Redis está desabilitado.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
	}
	go l.cleanupLoop()
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, windowDur time.Duration) (*ratelimiter.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, exists := l.windows[key]

	if !exists || now.After(w.expiresAt) {
		l.windows[key] = &window{
			count:     1,
			expiresAt: now.Add(windowDur),
		}
		return &ratelimiter.Result{
			Allowed:   true,
			Remaining: limit - 1,
			Reset:     now.Add(windowDur),
		}, nil
	}

	w.count++
	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}

	return &ratelimiter.Result{
		Allowed:    w.count <= limit,
		Remaining:  remaining,
		Reset:      w.expiresAt,
		RetryAfter: w.expiresAt.Sub(now),
	}, nil
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		l.mu.Lock()
		now := time.Now()
		for k, w := range l.windows {
			if now.After(w.expiresAt) {
				delete(l.windows, k)
			}
		}
		l.mu.Unlock()
	}
}
