package shell

import (
	"context"
	"time"
)

// Future is a single-assignment result slot. Exactly one writer fills it;
// any number of readers may await or poll it.
type Future struct {
	done chan struct{}
	res  ExecutionResult
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func readyFuture(r ExecutionResult) *Future {
	f := newFuture()
	f.fulfill(r)
	return f
}

// fulfill must be called at most once. The cmdState done flag guards this.
func (f *Future) fulfill(r ExecutionResult) {
	f.res = r
	close(f.done)
}

// Done returns a channel that is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available.
func (f *Future) Wait() ExecutionResult {
	<-f.done
	return f.res
}

// WaitTimeout blocks up to d for the result. The second return is false if
// the deadline passed first; the command itself keeps running.
func (f *Future) WaitTimeout(d time.Duration) (ExecutionResult, bool) {
	select {
	case <-f.done:
		return f.res, true
	case <-time.After(d):
		return ExecutionResult{}, false
	}
}

// WaitContext blocks until the result is available or ctx is done.
func (f *Future) WaitContext(ctx context.Context) (ExecutionResult, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return ExecutionResult{}, ctx.Err()
	}
}

// Poll returns the result without blocking. The second return is false if
// the result is not available yet.
func (f *Future) Poll() (ExecutionResult, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return ExecutionResult{}, false
	}
}
