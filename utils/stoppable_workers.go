package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a collection of goroutines that share a context and can be stopped together.
type StoppableWorkers struct {
	mu      sync.Mutex
	stopped bool

	ctx    context.Context
	cancel func()
	active sync.WaitGroup
}

// NewStoppableWorkers starts each function in its own goroutine.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	return NewStoppableWorkersWithContext(context.Background(), funcs...)
}

// NewStoppableWorkersWithContext is like NewStoppableWorkers but the workers' context is derived from
// `parent`, so cancelling the parent also signals the workers.
func NewStoppableWorkersWithContext(parent context.Context, funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(parent)
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.Add(funcs...)
	return sw
}

// Add starts additional goroutines. It returns false without starting anything once Stop has been
// called.
func (sw *StoppableWorkers) Add(funcs ...func(context.Context)) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.stopped {
		return false
	}

	sw.active.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.active.Done()
			f(sw.ctx)
		})
	}
	return true
}

// Stop cancels the shared context and waits for every goroutine to return. Workers may call Add
// while Stop is waiting; those calls are refused.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	sw.stopped = true
	sw.mu.Unlock()

	sw.cancel()
	sw.active.Wait()
}

// Context is the context handed to the workers.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
