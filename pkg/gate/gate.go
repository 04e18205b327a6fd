// Package gate bounds how many relay pipelines run at once.
package gate

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the default number of concurrent pipelines.
const DefaultSize = 3

// Metrics observes gate occupancy. A nil Metrics disables instrumentation.
type Metrics interface {
	SetInFlight(n int)
}

// Gate is a counting semaphore held for the whole lifetime of a pipeline,
// cleanup included.
type Gate struct {
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
	metrics  Metrics
}

// New creates a gate admitting size pipelines. Non-positive sizes use
// DefaultSize.
func New(size int, metrics Metrics) *Gate {
	if size <= 0 {
		size = DefaultSize
	}
	return &Gate{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		metrics: metrics,
	}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// function is safe to call more than once.
func (g *Gate) Acquire(ctx context.Context) (release func(), err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	g.track(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.track(-1)
			g.sem.Release(1)
		})
	}, nil
}

// TryAcquire takes a slot only if one is free right now.
func (g *Gate) TryAcquire() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.track(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			g.track(-1)
			g.sem.Release(1)
		})
	}, true
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Size returns the configured capacity.
func (g *Gate) Size() int {
	return g.size
}

func (g *Gate) track(delta int64) {
	n := g.inFlight.Add(delta)
	if g.metrics != nil {
		g.metrics.SetInFlight(int(n))
	}
}
