// Package ratelimit provides per-provider token-bucket limiting for the
// adapter layer's outbound requests, plus an optional daily request cap.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/marketdata/internal/errs"
)

// QuotaWindow selects how a daily cap's window resets. The source left this
// ambiguous, so both semantics are supported and the choice is configuration.
type QuotaWindow string

const (
	// Rolling24h resets the cap 24 hours after the first request in the window.
	Rolling24h QuotaWindow = "rolling_24h"
	// CalendarUTC resets the cap at midnight UTC.
	CalendarUTC QuotaWindow = "calendar_utc"
)

// Limiter wraps a token bucket for a single provider, with an optional daily
// request cap on top. The bucket refills continuously at rpm/60 per second.
type Limiter struct {
	mu    sync.Mutex
	rl    *rate.Limiter
	rps   float64
	burst int

	dailyCap    int
	window      QuotaWindow
	used        int
	windowStart time.Time
	now         func() time.Time
}

// New creates a Limiter allowing rps requests per second with the given
// burst and no daily cap.
func New(rps float64, burst int) *Limiter {
	return NewWithDailyCap(rps, burst, 0, Rolling24h)
}

// NewWithDailyCap creates a Limiter with a daily request cap. A cap of zero
// means unlimited.
func NewWithDailyCap(rps float64, burst int, dailyCap int, window QuotaWindow) *Limiter {
	if window == "" {
		window = Rolling24h
	}
	return &Limiter{
		rl:       rate.NewLimiter(rate.Limit(rps), burst),
		rps:      rps,
		burst:    burst,
		dailyCap: dailyCap,
		window:   window,
		now:      time.Now,
	}
}

// Wait blocks until a token is available or ctx is canceled. This is the
// suspension point the concurrency model calls out for rate-limited fetches.
// If a daily cap is configured and exhausted, Wait fails immediately with
// QuotaExceeded — the caller must not retry until the window rolls over.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	if err := l.consumeQuotaLocked(); err != nil {
		l.mu.Unlock()
		return err
	}
	rl := l.rl
	l.mu.Unlock()
	return rl.Wait(ctx)
}

// consumeQuotaLocked charges one request against the daily cap, rolling the
// window over first if it has expired.
func (l *Limiter) consumeQuotaLocked() error {
	if l.dailyCap <= 0 {
		return nil
	}
	now := l.now().UTC()
	switch l.window {
	case CalendarUTC:
		if l.windowStart.IsZero() || now.Format("2006-01-02") != l.windowStart.Format("2006-01-02") {
			l.windowStart = now
			l.used = 0
		}
	default: // Rolling24h
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= 24*time.Hour {
			l.windowStart = now
			l.used = 0
		}
	}
	if l.used >= l.dailyCap {
		return errs.New(errs.QuotaExceeded, "ratelimit.Wait",
			fmt.Errorf("daily cap of %d requests exhausted (window %s, started %s)",
				l.dailyCap, l.window, l.windowStart.Format(time.RFC3339)))
	}
	l.used++
	return nil
}

// Allow reports whether a request may proceed right now, without blocking.
// A request admitted by Allow counts against the daily cap.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.consumeQuotaLocked(); err != nil {
		return false
	}
	return l.rl.Allow()
}

// SetRPS updates the allowed rate without losing accumulated burst credit.
func (l *Limiter) SetRPS(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rps
	l.rl.SetLimit(rate.Limit(rps))
}

// Stats reports the current configuration and whether the limiter is
// presently throttling (next token is not immediately available).
type Stats struct {
	RPS       float64
	Burst     int
	Throttled bool
	DailyCap  int
	DailyUsed int
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.rl.Reserve()
	delay := r.Delay()
	r.Cancel()
	return Stats{RPS: l.rps, Burst: l.burst, Throttled: delay > 0, DailyCap: l.dailyCap, DailyUsed: l.used}
}

// Manager holds one Limiter per provider, created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Stats
}

// NewManager builds a Manager whose limiters default to the given rps/burst
// unless AddProvider configures a provider explicitly.
func NewManager(defaultRPS float64, defaultBurst int) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: Stats{RPS: defaultRPS, Burst: defaultBurst},
	}
}

// AddProvider registers an explicit rate for a provider, overriding the default.
func (m *Manager) AddProvider(provider string, rps float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[provider] = New(rps, burst)
}

// AddProviderWithQuota registers a provider with both a rate and a daily cap.
func (m *Manager) AddProviderWithQuota(provider string, rps float64, burst, dailyCap int, window QuotaWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[provider] = NewWithDailyCap(rps, burst, dailyCap, window)
}

func (m *Manager) getOrCreate(provider string) *Limiter {
	m.mu.RLock()
	l, ok := m.limiters[provider]
	m.mu.RUnlock()
	if ok {
		return l
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[provider]; ok {
		return l
	}
	l = New(m.defaults.RPS, m.defaults.Burst)
	m.limiters[provider] = l
	return l
}

// Wait blocks on the named provider's limiter.
func (m *Manager) Wait(ctx context.Context, provider string) error {
	return m.getOrCreate(provider).Wait(ctx)
}

// Stats reports every provider limiter's current state, keyed by provider name.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.limiters))
	for name, l := range m.limiters {
		out[name] = l.Stats()
	}
	return out
}
