package server

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// anonymousApp buckets callers that did not identify themselves.
const anonymousApp = "_anonymous"

// appLimiter applies a token bucket per application and evicts idle buckets.
type appLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byApp map[string]*bucket
	hits  uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newAppLimiter returns nil when rps or burst disable limiting. A nil limiter allows everything.
func newAppLimiter(rps float64, burst int, idleTTL time.Duration) *appLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &appLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byApp:   make(map[string]*bucket),
	}
}

// Allow consumes one token for appID at now.
func (l *appLimiter) Allow(appID string, now time.Time) bool {
	if l == nil {
		return true
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		appID = anonymousApp
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byApp[appID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byApp[appID] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		l.evict(now)
	}
	return allowed
}

func (l *appLimiter) evict(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, b := range l.byApp {
		if b.lastSeen.Before(cutoff) {
			delete(l.byApp, k)
		}
	}
}

// Len returns the number of tracked applications.
func (l *appLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byApp)
}
