package m3api

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCombineWindow is how long the first request of a combined group
// waits for compatible requests to join it.
const DefaultCombineWindow = 10 * time.Millisecond

// combineEntry is a pending or in-flight combined request shared between
// callers.
type combineEntry struct {
	key    string
	params Params
	wire   map[string]string
	opts   Options
	ctx    context.Context

	warns      []WarnFunc
	dispatched bool

	response Response
	err      error
	done     chan struct{}
}

// combiner merges compatible GET requests issued within a short window
// into one network call. Two requests are compatible if their options
// agree and every parameter they share has the same normalized value.
type combiner struct {
	session *Session
	window  time.Duration

	mu      sync.Mutex
	pending []*combineEntry
}

func newCombiner(s *Session, window time.Duration) *combiner {
	return &combiner{
		session: s,
		window:  window,
	}
}

// request joins a compatible pending entry or starts a new one, then waits
// for its result.
func (c *combiner) request(ctx context.Context, params Params, opts Options) (Response, error) {
	key := optionsKey(opts)
	wire := NormalizeParams(params)
	warn := c.session.warnFunc(opts)

	c.mu.Lock()
	entry := c.join(key, params, wire, warn)
	if entry == nil {
		entry = &combineEntry{
			key:    key,
			params: mergeParams(params),
			wire:   wire,
			opts:   opts,
			ctx:    context.WithoutCancel(ctx),
			warns:  []WarnFunc{warn},
			done:   make(chan struct{}),
		}
		c.pending = append(c.pending, entry)
		time.AfterFunc(c.window, func() { c.dispatch(entry) })
	}
	c.mu.Unlock()

	return entry.wait(ctx)
}

// join adds the caller to a compatible pending entry. c.mu must be held.
func (c *combiner) join(key string, params Params, wire map[string]string, warn WarnFunc) *combineEntry {
	for _, entry := range c.pending {
		if entry.dispatched || entry.key != key || !compatible(entry.wire, wire) {
			continue
		}
		for name, value := range wire {
			if _, ok := entry.wire[name]; !ok {
				entry.wire[name] = value
				entry.params[name] = params[name]
			}
		}
		entry.warns = append(entry.warns, warn)
		c.session.debugLog("Combining request", "waiters", len(entry.warns))
		return entry
	}
	return nil
}

func (c *combiner) dispatch(entry *combineEntry) {
	c.mu.Lock()
	entry.dispatched = true
	for i, e := range c.pending {
		if e == entry {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	warns := entry.warns
	c.mu.Unlock()

	opts := entry.opts
	opts.DropTruncatedResultWarning = false
	opts.Warn = func(err error) {
		for _, warn := range warns {
			warn(err)
		}
	}

	c.session.metrics.RecordCombined(len(warns))
	entry.response, entry.err = c.session.request(entry.ctx, entry.params, opts)
	close(entry.done)
}

// wait blocks until the combined request completes or ctx is done. The
// response map is shared by all waiters and must not be modified.
func (entry *combineEntry) wait(ctx context.Context) (Response, error) {
	select {
	case <-entry.done:
		return entry.response, entry.err
	case <-ctx.Done():
		return nil, &RequestError{
			Type:    ErrorTypeCancelled,
			Message: "request cancelled",
			Cause:   ctx.Err(),
			Method:  MethodGet,
		}
	}
}

// compatible reports whether every parameter present in both sets has the
// same value.
func compatible(a, b map[string]string) bool {
	for name, value := range b {
		if other, ok := a[name]; ok && other != value {
			return false
		}
	}
	return true
}

// optionsKey identifies the options that must agree for requests to be
// combined. Warning handlers may differ; each caller keeps its own.
func optionsKey(opts Options) string {
	return fmt.Sprintf("%s|%s|%g|%g|%g|%t",
		opts.Method,
		opts.UserAgent,
		opts.MaxRetriesSeconds,
		opts.RetryAfterMaxlagSeconds,
		opts.RetryAfterReadonlySeconds,
		opts.removedMaxRetries,
	)
}
