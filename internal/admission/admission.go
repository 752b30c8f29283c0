// Package admission provides request admission control: a token-bucket
// limiter that protects the shared cache/executor/endpoint pool from being
// overrun, per the resource-sharing policy in the concurrency model.
package admission

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the limiter's tunables. RequestsPerMinute <= 0 disables
// admission control entirely (every call is allowed).
type Config struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultConfig disables admission control; operators opt in explicitly.
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 0, BurstSize: 0, CleanupInterval: 5 * time.Minute}
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// Limiter is a keyed token-bucket limiter. Each key (a force_endpoint
// name, or "global" when none is forced) gets its own independent bucket, so
// one noisy caller cannot starve admission for every other key.
type Limiter struct {
	cfg     Config
	logger  *logrus.Logger
	mu      sync.RWMutex
	buckets map[string]*bucket
	stop    chan struct{}
}

// New builds a Limiter. If cfg.RequestsPerMinute <= 0, Allow always
// reports true and no background cleanup goroutine is started.
func New(cfg Config, logger *logrus.Logger) *Limiter {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerMinute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	l := &Limiter{cfg: cfg, logger: logger, buckets: make(map[string]*bucket), stop: make(chan struct{})}
	if cfg.RequestsPerMinute > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether a request under key may proceed, consuming one
// token if so.
func (l *Limiter) Allow(key string) bool {
	if l.cfg.RequestsPerMinute <= 0 {
		return true
	}
	if key == "" {
		key = "global"
	}

	b := l.getOrCreate(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		refill := int(elapsed.Minutes() * float64(l.cfg.RequestsPerMinute))
		if refill > 0 {
			b.tokens = min(b.tokens+refill, l.cfg.BurstSize)
			b.lastRefill = now
		}
	}

	if b.tokens <= 0 {
		l.logger.WithField("key", key).Warn("admission control rejected request: rate limit exceeded")
		return false
	}
	b.tokens--
	return true
}

func (l *Limiter) getOrCreate(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucket{tokens: l.cfg.BurstSize, lastRefill: time.Now()}
	l.buckets[key] = b
	return b
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	cutoff := time.Now().Add(-2 * l.cfg.CleanupInterval)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		stale := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(l.buckets, key)
		}
	}
}

// Stop halts the background cleanup goroutine. Safe to call even if
// admission control is disabled.
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
