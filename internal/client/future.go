package client

import "context"

// Future is the pending result of one request envelope. It resolves exactly
// once, either with the reply value or with an error.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any) {
	f.value = value
	close(f.done)
}

func (f *Future) fail(err error) {
	f.err = err
	close(f.done)
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future settles or the context ends.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
