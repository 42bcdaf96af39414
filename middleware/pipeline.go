// Package middleware runs ordered chains of interceptors over a shared,
// mutable context value.
//
// Each middleware receives the context plus two continuations and must call
// exactly one of them, either inline or later from another goroutine:
//
//	p.Use(func(c *Ctx, next, done func()) {
//		c.Text = strings.ToUpper(c.Text)
//		next()
//	})
//
// Calling done halts the chain. A middleware that calls neither blocks the
// chain until the context passed to Execute is cancelled.
package middleware

import (
	"context"
	"sync"
)

// Outcome reports how a chain finished.
type Outcome int

const (
	// Continued means every middleware called next.
	Continued Outcome = iota
	// Halted means some middleware called done; later middleware did not run.
	Halted
)

func (o Outcome) String() string {
	switch o {
	case Continued:
		return "continued"
	case Halted:
		return "halted"
	default:
		return "unknown"
	}
}

// Func is one middleware. C is normally a pointer so mutations are shared.
type Func[C any] func(c C, next, done func())

// Pipeline is an append-only ordered list of middleware. Safe for concurrent
// use; Execute runs against a snapshot taken when it starts.
type Pipeline[C any] struct {
	mu    sync.RWMutex
	stack []Func[C]
}

// New returns an empty pipeline.
func New[C any]() *Pipeline[C] {
	return &Pipeline[C]{}
}

// Use appends a middleware.
func (p *Pipeline[C]) Use(fn Func[C]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stack = append(p.stack, fn)
}

// Len returns the number of registered middleware.
func (p *Pipeline[C]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stack)
}

// Execute runs the chain over c in registration order. The error is non-nil
// only when ctx ends while a middleware has not yet answered; the outcome is
// Halted in that case.
func (p *Pipeline[C]) Execute(ctx context.Context, c C) (Outcome, error) {
	p.mu.RLock()
	stack := p.stack[:len(p.stack):len(p.stack)]
	p.mu.RUnlock()

	for _, fn := range stack {
		signal := make(chan Outcome, 1)
		var once sync.Once
		next := func() { once.Do(func() { signal <- Continued }) }
		done := func() { once.Do(func() { signal <- Halted }) }

		fn(c, next, done)

		select {
		case o := <-signal:
			if o == Halted {
				return Halted, nil
			}
		case <-ctx.Done():
			return Halted, ctx.Err()
		}
	}
	return Continued, nil
}
