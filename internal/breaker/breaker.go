// Package breaker wraps per-provider circuit breakers around adapter calls,
// tripping after a run of failures so a down provider stops being hammered.
package breaker

import (
	"sync"
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker wraps a single gobreaker.CircuitBreaker for one provider.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// New builds a Breaker named for the given provider. It trips after 3
// consecutive failures, or after 20 requests with a failure ratio over 5%,
// and probes again after a minute open.
func New(provider string) *Breaker {
	settings := cb.Settings{
		Name:     provider,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 3 ||
				(counts.Requests >= 20 && failureRatio > 0.05)
		},
	}
	return &Breaker{cb: cb.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker, short-circuiting with gobreaker's own
// ErrOpenState when the provider is tripped.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state (closed/open/half-open).
func (b *Breaker) State() cb.State {
	return b.cb.State()
}

// Manager holds one Breaker per provider, created lazily.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

func (m *Manager) get(provider string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[provider]
	if !ok {
		b = New(provider)
		m.breakers[provider] = b
	}
	return b
}

// Execute runs fn through the named provider's breaker.
func (m *Manager) Execute(provider string, fn func() (any, error)) (any, error) {
	return m.get(provider).Execute(fn)
}

// State reports the named provider's breaker state.
func (m *Manager) State(provider string) cb.State {
	return m.get(provider).State()
}
