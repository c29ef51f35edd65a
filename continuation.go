package m3api

import (
	"context"
	"iter"
)

// Pages is a lazy sequence of responses for one paginated request. Each
// response's "continue" object is merged into the parameters of the next
// request; the sequence ends after a response without one. A Pages value
// cannot be restarted.
type Pages struct {
	session *Session
	params  Params
	opts    Options

	continueParams Params
	done           bool
	iterated       bool
	resp           Response
	err            error
}

// RequestAndContinue returns the pages of a continued request. No request
// is made until Next is called.
func (s *Session) RequestAndContinue(params Params, opts ...RequestOption) *Pages {
	return s.pages(params, composeOptions(s.defaultOptions, opts))
}

func (s *Session) pages(params Params, opts Options) *Pages {
	return &Pages{
		session: s,
		params:  params,
		opts:    opts,
	}
}

// Next fetches the next page. It returns false when the sequence is
// exhausted or a request failed; check Err.
func (p *Pages) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	params := mergeParams(p.params, p.continueParams)
	resp, err := p.session.do(ctx, params, p.opts)
	if err != nil {
		p.err = err
		p.resp = nil
		p.done = true
		return false
	}

	p.resp = resp
	if c := resp.Continue(); c != nil {
		p.continueParams = Params(c)
	} else {
		p.done = true
	}
	return true
}

// Response returns the page fetched by the last call to Next.
func (p *Pages) Response() Response {
	return p.resp
}

// Err returns the error that stopped the sequence, if any.
func (p *Pages) Err() error {
	return p.err
}

// All returns the remaining pages as an iterator. A failed request is
// yielded as the final element.
func (p *Pages) All(ctx context.Context) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		if p.iterated {
			yield(nil, ErrPagesConsumed)
			return
		}
		p.iterated = true

		for p.Next(ctx) {
			if !yield(p.resp, nil) {
				return
			}
		}
		if p.err != nil {
			yield(nil, p.err)
		}
	}
}

// Batches folds the pages of a continued request into one value per
// batch. A value is emitted whenever a page has "batchcomplete" set.
type Batches[T any] struct {
	pages   *Pages
	reducer func(acc T, resp Response) T
	initial func() T

	acc      T
	value    T
	iterated bool
}

// ReduceBatches groups pages into batches. initial creates each batch's
// starting accumulator; nil means the zero value of T.
func ReduceBatches[T any](pages *Pages, reducer func(acc T, resp Response) T, initial func() T) *Batches[T] {
	if initial == nil {
		initial = func() T {
			var zero T
			return zero
		}
	}
	return &Batches[T]{
		pages:   pages,
		reducer: reducer,
		initial: initial,
		acc:     initial(),
	}
}

// RequestAndContinueReducingBatch is RequestAndContinue grouped into
// batches with map accumulators. A nil initial starts every batch with an
// empty map. Truncated result warnings are dropped unless opts say
// otherwise, since continuation delivers the rest of the result anyway.
func (s *Session) RequestAndContinueReducingBatch(
	params Params,
	reducer func(acc map[string]any, resp Response) map[string]any,
	initial func() map[string]any,
	opts ...RequestOption,
) *Batches[map[string]any] {
	if initial == nil {
		initial = func() map[string]any { return map[string]any{} }
	}
	options := composeOptions(s.defaultOptions, []RequestOption{WithDropTruncatedResultWarning(true)}, opts)
	return ReduceBatches(s.pages(params, options), reducer, initial)
}

// Next advances to the next complete batch.
func (b *Batches[T]) Next(ctx context.Context) bool {
	for b.pages.Next(ctx) {
		resp := b.pages.Response()
		b.acc = b.reducer(b.acc, resp)
		if resp.BatchComplete() {
			b.value = b.acc
			b.acc = b.initial()
			return true
		}
	}
	return false
}

// Value returns the batch produced by the last call to Next.
func (b *Batches[T]) Value() T {
	return b.value
}

// Err returns the error that stopped the sequence, if any.
func (b *Batches[T]) Err() error {
	return b.pages.Err()
}

// All returns the remaining batches as an iterator.
func (b *Batches[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if b.iterated {
			yield(zero, ErrPagesConsumed)
			return
		}
		b.iterated = true

		for b.Next(ctx) {
			if !yield(b.value, nil) {
				return
			}
		}
		if err := b.pages.Err(); err != nil {
			yield(zero, err)
		}
	}
}
