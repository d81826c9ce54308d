package session

import (
	"container/list"
	"context"
	"sync"
)

// Gate serializes turns against one Session. Waiters are granted strictly in
// arrival order.
type Gate struct {
	mu      sync.Mutex
	held    bool
	waiters list.List
}

// NewGate returns an unheld gate.
func NewGate() *Gate {
	return &Gate{}
}

// Acquire blocks until the caller holds the gate or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.held && g.waiters.Len() == 0 {
		g.held = true
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := g.waiters.PushBack(ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-ready:
			// Granted while cancelling; pass it on.
			g.mu.Unlock()
			g.Release()
		default:
			g.waiters.Remove(elem)
			g.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release hands the gate to the oldest waiter, or frees it.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		panic("session: release of unheld gate")
	}
	front := g.waiters.Front()
	if front == nil {
		g.held = false
		return
	}
	g.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}

// Waiting reports how many callers are blocked in Acquire.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}
