// Package api implements the Sift REST API using chi.
package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LimiterPool hands out one token bucket per client address. Buckets idle
// long enough to have refilled are swept, since a fresh one behaves the same.
type LimiterPool struct {
	mu        sync.Mutex
	m         map[string]*poolEntry
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type poolEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterPool allows perMinute requests per client with the given burst.
// perMinute <= 0 disables limiting.
func NewLimiterPool(perMinute float64, burst int) *LimiterPool {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perMinute / 60)
	return &LimiterPool{
		m:     make(map[string]*poolEntry),
		limit: limit,
		burst: burst,
		idle:  max(time.Duration(float64(burst)/float64(limit)*float64(time.Second)), time.Minute),
		now:   time.Now,
	}
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.lastSweep) >= p.idle {
		p.sweep(now)
	}
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = &poolEntry{limiter: l, lastSeen: now}
	return l
}

// sweep drops buckets unused for p.idle. Callers hold p.mu.
func (p *LimiterPool) sweep(now time.Time) {
	for k, e := range p.m {
		if now.Sub(e.lastSeen) >= p.idle {
			delete(p.m, k)
		}
	}
	p.lastSweep = now
}

func (p *LimiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects requests over the pool's budget with 429. A nil pool
// lets everything through.
func RateLimit(pool *LimiterPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if pool == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := pool.get(clientKey(r))
			if !l.Allow() {
				retry := 1.0
				if pool.limit > 0 {
					retry = max(retry, 1/float64(pool.limit))
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retry)))
				writeJSON(w, http.StatusTooManyRequests, errorBody("too many scrape requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
