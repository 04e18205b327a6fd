// Package tasks tracks detached background goroutines so shutdown can wait
// for them or cancel them.
package tasks

import (
	"context"
	"sync"

	"github.com/marmos91/mediarelay/internal/logger"
)

// Handle controls one registered task.
type Handle struct {
	Name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel asks the task to stop. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the task function returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task returns or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ledger is a registry of running tasks. Each task gets a context derived
// from the ledger's, so Close cancels all of them.
type Ledger struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[*Handle]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewLedger creates an empty ledger whose tasks inherit parent's values.
// Cancelling parent cancels every task.
func NewLedger(parent context.Context) *Ledger {
	ctx, cancel := context.WithCancel(parent)
	return &Ledger{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[*Handle]struct{}),
	}
}

// Go starts fn in a goroutine and registers it under name. After Shutdown
// or Close, fn is not started and the returned handle is already done.
func (l *Ledger) Go(name string, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(l.ctx)
	h := &Handle{Name: name, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		close(h.done)
		logger.Warn("Task rejected after shutdown", logger.KeyTask, name)
		return h
	}
	l.tasks[h] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			l.mu.Lock()
			delete(l.tasks, h)
			l.mu.Unlock()
			close(h.done)
			l.wg.Done()
		}()
		fn(ctx)
	}()
	return h
}

// Len returns the number of tasks still running.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Names returns the names of running tasks.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.tasks))
	for h := range l.tasks {
		names = append(names, h.Name)
	}
	return names
}

// Shutdown stops accepting tasks and waits for the running ones to finish.
// If ctx expires first the remaining tasks are cancelled and awaited, and
// ctx's error is returned.
func (l *Ledger) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		logger.Warn("Shutdown deadline reached, cancelling tasks", "remaining", l.Names())
		l.cancel()
		<-done
		return ctx.Err()
	}
}

// Close cancels every running task without waiting. Tasks still registered
// are logged since they were not drained by Shutdown.
func (l *Ledger) Close() {
	l.mu.Lock()
	l.closed = true
	outstanding := make([]string, 0, len(l.tasks))
	for h := range l.tasks {
		outstanding = append(outstanding, h.Name)
	}
	l.mu.Unlock()

	if len(outstanding) > 0 {
		logger.Warn("Cancelling outstanding background tasks", "count", len(outstanding), "tasks", outstanding)
	}
	l.cancel()
}
