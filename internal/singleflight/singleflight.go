// Package singleflight coalesces concurrent calls for the same key into
// one execution whose result every caller receives.
package singleflight

import (
	"context"
	"sync"
)

// Group manages a set of in-flight calls. The zero value is ready to use.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

type call[T any] struct {
	done    chan struct{}
	val     T
	err     error
	callers int
}

// New creates a new Group.
func New[T any]() *Group[T] {
	return &Group[T]{}
}

// Do runs fn once per key at a time. Callers arriving while a call for key
// is in flight wait for it and receive its result; shared reports whether
// the result went to more than one caller.
//
// fn runs detached from the cancellation of ctx, so one caller giving up
// does not fail the others. A caller whose ctx is done returns ctx.Err()
// without waiting.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (val T, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[T])
	}
	c, ok := g.m[key]
	if ok {
		c.callers++
	} else {
		c = &call[T]{done: make(chan struct{}), callers: 1}
		g.m[key] = c
		go g.run(context.WithoutCancel(ctx), key, c, fn)
	}
	g.mu.Unlock()

	select {
	case <-c.done:
		g.mu.Lock()
		shared = c.callers > 1
		g.mu.Unlock()
		return c.val, c.err, shared
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err(), false
	}
}

func (g *Group[T]) run(ctx context.Context, key string, c *call[T], fn func(context.Context) (T, error)) {
	c.val, c.err = fn(ctx)

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)
}

// Forget makes the next Do for key start a new call even if one is in
// flight.
func (g *Group[T]) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
