package dispatch

import (
	"context"
	"sync"
)

// Future is the pending result of submitted work.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that is already complete.
func Resolved[T any](val T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(val, err)
	return f
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the result is available or ctx ends. Ending ctx does
// not cancel the work.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
