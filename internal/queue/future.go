package queue

import (
	"context"
	"sync"
)

// Future is the pending result of a submitted request. It settles exactly
// once, either with the work's value or with a classified *apperror.Error.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. Giving up on the
// wait does not cancel the request; cancel the context passed to Submit for
// that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value. It must only be called after Done is
// closed.
func (f *Future[T]) Result() (T, error) {
	return f.val, f.err
}
