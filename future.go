package coalescer

import (
	"context"
	"sync"
)

// Future is the pending result of one enqueued key. It is completed exactly
// once, either with a value or with an error.
type Future[V any] struct {
	done chan struct{}
	once sync.Once

	value V
	err   error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

func failedFuture[V any](err error) *Future[V] {
	f := newFuture[V]()
	f.reject(err)

	return f
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is completed or ctx is done. A done ctx only
// stops the wait: the request stays enrolled and is still resolved by its
// batch.
func (f *Future[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var v V
		return v, ctx.Err()
	}
}

// Result blocks until the future is completed.
func (f *Future[V]) Result() (V, error) {
	<-f.done

	return f.value, f.err
}

func (f *Future[V]) resolve(value V) bool {
	return f.complete(value, nil)
}

func (f *Future[V]) reject(err error) bool {
	var v V
	return f.complete(v, err)
}

func (f *Future[V]) complete(value V, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		completed = true
	})

	return completed
}
