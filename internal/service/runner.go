package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// keyedMutex hands out one mutex per key and forgets it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) acquire(key string) *refMutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	return m
}

func (k *keyedMutex) release(key string, m *refMutex) {
	k.mu.Lock()
	defer k.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	m := k.acquire(key)
	m.Lock()
	return func() {
		m.Unlock()
		k.release(key, m)
	}
}

// TryLock locks key only if it is free
func (k *keyedMutex) TryLock(key string) (func(), bool) {
	m := k.acquire(key)
	if !m.TryLock() {
		k.release(key, m)
		return nil, false
	}
	return func() {
		m.Unlock()
		k.release(key, m)
	}, true
}

// Runner executes session tasks in the background. At most one task per
// session is registered at a time and each one can be cancelled by id.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	locks  *keyedMutex

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// NewRunner creates a runner whose tasks derive from a fresh root context
func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:    ctx,
		cancel: cancel,
		locks:  newKeyedMutex(),
		tasks:  make(map[string]context.CancelFunc),
	}
}

// Go starts fn for sessionID unless a task for it is already running
func (r *Runner) Go(sessionID string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if _, busy := r.tasks[sessionID]; busy {
		r.mu.Unlock()
		return ErrSessionBusy
	}
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.tasks[sessionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.tasks, sessionID)
			r.mu.Unlock()
			cancel()
		}()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("session_id", sessionID).Msg("Session task panicked")
			}
		}()
		fn(ctx)
	}()
	return nil
}

// Cancel stops the task running for sessionID
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	cancel, ok := r.tasks[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether a task is registered for sessionID
func (r *Runner) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}

// Wait blocks until every task has returned
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all tasks and waits for them or for ctx
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockSession serializes provider calls for one session
func (r *Runner) lockSession(sessionID string) (func(), bool) {
	return r.locks.TryLock(sessionID)
}
