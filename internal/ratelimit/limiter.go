// Package ratelimit implements a per-domain limiter bounding both concurrent
// calls and the pace of successive dispatches to any single external host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/collegepulse/collegescraper/internal/metrics"
)

const (
	defaultMaxConcurrent = 2
	defaultMinInterval   = time.Second
)

// Config holds rate limiter configuration applied to every domain.
type Config struct {
	MaxConcurrent int
	MinInterval   time.Duration
}

type domainLimiter struct {
	slots chan struct{}
	pace  *rate.Limiter
}

// Limiter manages per-domain limits. Domains are fully independent: a slow or
// saturated domain never delays calls to another one.
type Limiter struct {
	mu      sync.Mutex
	domains map[string]*domainLimiter
	cfg     Config
}

// New creates a Limiter. Non-positive values fall back to the defaults
// (2 concurrent, 1s between dispatches).
func New(cfg Config) *Limiter {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	return &Limiter{
		domains: make(map[string]*domainLimiter),
		cfg:     cfg,
	}
}

func (l *Limiter) domain(key string) *domainLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.domains[key]
	if !ok {
		d = &domainLimiter{
			slots: make(chan struct{}, l.cfg.MaxConcurrent),
			pace:  rate.NewLimiter(rate.Every(l.cfg.MinInterval), 1),
		}
		l.domains[key] = d
	}
	return d
}

// Do runs fn once a concurrency slot and a pacing token are available for the
// domain. Failures in fn release the slot normally and never affect queued
// callers; no call is dropped, callers simply wait their turn.
func (l *Limiter) Do(ctx context.Context, domainKey string, fn func(context.Context) error) error {
	d := l.domain(domainKey)

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit slot wait: %w", ctx.Err())
	}
	defer func() { <-d.slots }()

	start := time.Now()
	if err := d.pace.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domainKey, waited)
	}

	return fn(ctx)
}
