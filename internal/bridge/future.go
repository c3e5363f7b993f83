package bridge

import (
	"context"
	"sync"
)

// Future is the single-shot result of Send.
type Future struct {
	id   string
	done chan struct{}
	once sync.Once

	value any
	err   error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func failed(err error) *Future {
	f := newFuture("")
	f.settle(nil, err)
	return f
}

// settle completes the future. Only the first call has any effect.
func (f *Future) settle(value any, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		settled = true
	})
	return settled
}

// ID is the request id, empty for requests refused before dispatch.
func (f *Future) ID() string { return f.id }

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future settles or ctx ends. Giving up does not
// cancel the request; the entry stays pending until its own terminal event.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
