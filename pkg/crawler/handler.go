package crawler

import (
	"context"
	"iter"
)

// Handler processes a fetched page. It is sealed: the only implementations are
// SingleResult and Stream, and the variant a user registers decides how the
// engine consumes the output.
type Handler interface {
	dispatch(ctx context.Context, page *Page, job Job, enqueue func(Job)) error
}

// SingleResult handles a page and returns at most one follow-up job. A nil job
// produces no further work.
type SingleResult func(ctx context.Context, page *Page, job Job) (*Job, error)

func (h SingleResult) dispatch(ctx context.Context, page *Page, job Job, enqueue func(Job)) error {
	next, err := h(ctx, page, job)
	if err != nil {
		return err
	}
	if next != nil {
		enqueue(*next)
	}
	return nil
}

// Stream handles a page by lazily producing any number of jobs. The engine
// drains the sequence and queues each job as soon as it is yielded; a non-nil
// error stops the drain.
type Stream func(ctx context.Context, page *Page, job Job) iter.Seq2[Job, error]

func (h Stream) dispatch(ctx context.Context, page *Page, job Job, enqueue func(Job)) error {
	seq := h(ctx, page, job)
	if seq == nil {
		return nil
	}
	for next, err := range seq {
		if err != nil {
			return err
		}
		enqueue(next)
	}
	return nil
}

// Jobs adapts a fixed list of jobs into a stream sequence.
func Jobs(jobs ...Job) iter.Seq2[Job, error] {
	return func(yield func(Job, error) bool) {
		for _, j := range jobs {
			if !yield(j, nil) {
				return
			}
		}
	}
}

// Fail returns a stream sequence that yields only err.
func Fail(err error) iter.Seq2[Job, error] {
	return func(yield func(Job, error) bool) {
		yield(Job{}, err)
	}
}

// unimplemented is the fallback for kinds without a registered handler.
var unimplemented SingleResult = func(_ context.Context, _ *Page, job Job) (*Job, error) {
	return nil, &UnimplementedHandlerError{Job: job}
}
