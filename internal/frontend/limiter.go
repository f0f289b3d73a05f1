package frontend

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig configures per-source-id rate limiting on the three
// fire-and-forget RT sends (spec §4.7).
type LimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

// DefaultLimiterConfig allows 200 events/second per source with a burst of
// 32 — generous enough for a busy MIDI controller, tight enough to keep a
// runaway producer from spinning the RT queue's overflow path every call.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Rate:            rate.Limit(200),
		Burst:           32,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a per-source-id token bucket limiter with background cleanup
// of idle entries.
type Limiter struct {
	mu      sync.Mutex
	entries map[uint32]*limiterEntry
	cfg     LimiterConfig
	stopCh  chan struct{}
}

// NewLimiter creates a limiter and starts its background cleanup loop.
func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{
		entries: make(map[uint32]*limiterEntry),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a send from the given source id may proceed now.
func (l *Limiter) Allow(source uint32) bool {
	l.mu.Lock()
	entry, ok := l.entries[source]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.entries[source] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.cfg.MaxAge)
	removed := 0
	for id, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("frontend limiter cleanup", "removed", removed, "remaining", len(l.entries))
	}
}
