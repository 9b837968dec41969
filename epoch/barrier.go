package epoch

import (
	"context"
	"sync"
)

// barrier is a one-shot rendezvous for n goroutines. The manager creates
// a fresh one per epoch.
type barrier struct {
	n int

	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, done: make(chan struct{})}
}

// Wait blocks until n goroutines arrived or ctx is cancelled. It returns
// true on exactly one of them, the last to arrive.
func (b *barrier) Wait(ctx context.Context) (bool, error) {
	b.mu.Lock()
	b.count++
	last := b.count == b.n
	if last {
		close(b.done)
	}
	b.mu.Unlock()
	if last {
		return true, nil
	}
	select {
	case <-b.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
