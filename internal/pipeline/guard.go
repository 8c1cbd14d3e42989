package pipeline

import (
	"context"
	"sync"
)

// ExportedRunGuard is an exported alias so _test packages can test the guard.
type ExportedRunGuard = runGuard

// runGuard serializes pipeline runs per data type: two loads must never
// race to swap the same partition. Queries are unaffected.
type runGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock attempts to mark dataType as running. Returns false if a run
// for the same partition is already in flight.
func (g *runGuard) TryLock(dataType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[dataType]; ok {
		return false
	}
	g.running[dataType] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock marks the run as finished. Must be called after TryLock returns true.
func (g *runGuard) Unlock(dataType string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, dataType)
	g.wg.Done()
}

// WaitAll blocks until all in-flight runs complete or ctx is cancelled.
// Used for graceful shutdown.
func (g *runGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
