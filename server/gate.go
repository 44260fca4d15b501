package server

import (
	"context"
	"sync"
)

// A Gate holds requests until it is released. The orchestrator arms the
// stylesheet gate before the first build so that browsers opening the page
// early don't cache a missing or stale stylesheet.
//
// The zero Gate is open.
type Gate struct {
	mu   sync.Mutex
	wait chan struct{}
}

// Arm closes the gate. Arming an already closed gate does nothing.
func (g *Gate) Arm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wait == nil {
		g.wait = make(chan struct{})
	}
}

// Release opens the gate and lets every waiting request through.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wait != nil {
		close(g.wait)
		g.wait = nil
	}
}

// Armed reports whether requests are currently being held.
func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.wait != nil
}

// Wait blocks until the gate is open or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	wait := g.wait
	g.mu.Unlock()
	if wait == nil {
		return nil
	}
	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
