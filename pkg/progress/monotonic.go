package progress

import (
	"context"
	"sync"
	"time"
)

// Monotonic wraps a Reporter so the percentages it forwards never go down
// within one request. A lower value is forwarded as the highest value seen
// so far, keeping its label. Every forwarded value is recorded.
type Monotonic struct {
	inner Reporter

	mu      sync.Mutex
	last    int
	history []int
}

var _ Reporter = (*Monotonic)(nil)

// NewMonotonic wraps r.
func NewMonotonic(r Reporter) *Monotonic {
	return &Monotonic{inner: r}
}

// Start implements Reporter.
func (m *Monotonic) Start(ctx context.Context, label string) error {
	return m.inner.Start(ctx, label)
}

// Update implements Reporter. The lock is held across the inner call so
// concurrent phases cannot interleave out of order.
func (m *Monotonic) Update(ctx context.Context, percent int, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	percent = max(percent, m.last)
	m.last = percent
	m.history = append(m.history, percent)
	m.inner.Update(ctx, percent, label)
}

// Delete implements Reporter.
func (m *Monotonic) Delete(ctx context.Context) error {
	return m.inner.Delete(ctx)
}

// Percent returns the highest value forwarded so far.
func (m *Monotonic) Percent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// History returns a copy of every forwarded percentage in order.
func (m *Monotonic) History() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history...)
}

// Animate delegates to the wrapped reporter when it can animate. Otherwise
// the returned task just waits for cancellation.
func (m *Monotonic) Animate(label string, interval time.Duration) func(ctx context.Context) {
	if a, ok := m.inner.(interface {
		Animate(string, time.Duration) func(context.Context)
	}); ok {
		return a.Animate(label, interval)
	}
	return func(ctx context.Context) { <-ctx.Done() }
}
