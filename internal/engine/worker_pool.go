package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// task is one queued payload plus where to deliver its result. reply may be
// nil for fire-and-forget work.
type task[T, R any] struct {
	ctx     context.Context
	payload T
	reply   chan<- R
}

// workerPool runs a fixed number of goroutines over a bounded queue.
type workerPool[T, R any] struct {
	queue    chan task[T, R]
	process  func(ctx context.Context, t T) R
	wg       sync.WaitGroup
	inFlight atomic.Int64
	closed   atomic.Bool
	mu       sync.RWMutex
}

// newWorkerPool starts n workers draining a queue of capacity depth. Workers
// exit when ctx is cancelled or the pool is drained.
func newWorkerPool[T, R any](ctx context.Context, n, depth int, fn func(context.Context, T) R) *workerPool[T, R] {
	if n <= 0 {
		n = 1
	}
	if depth < 0 {
		depth = 0
	}
	p := &workerPool[T, R]{
		queue:   make(chan task[T, R], depth),
		process: fn,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T, R]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.inFlight.Add(1)
			res := p.process(t.ctx, t.payload)
			p.inFlight.Add(-1)
			if t.reply != nil {
				t.reply <- res
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues without blocking. It returns false when the queue is full
// or the pool has been drained. reply, if set, must have room for one value.
func (p *workerPool[T, R]) Submit(ctx context.Context, payload T, reply chan<- R) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	select {
	case p.queue <- task[T, R]{ctx: ctx, payload: payload, reply: reply}:
		return true
	default:
		return false
	}
}

// Drain stops accepting work, lets the workers finish what is queued and
// waits for them. Safe to call more than once.
func (p *workerPool[T, R]) Drain() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *workerPool[T, R]) QueueLen() int { return len(p.queue) }

func (p *workerPool[T, R]) QueueCap() int { return cap(p.queue) }

// InFlight is the number of payloads currently being processed.
func (p *workerPool[T, R]) InFlight() int { return int(p.inFlight.Load()) }
