package pacer

import "sync"

// Guarded wraps a Pacer with the single mutex every caller that
// mutates it must go through: the simulation-thread path
// (lifecycle.Orchestrator.WaitAndBeginFrame, which reads GetWaitTarget
// and writes BeginFrame/Reset) and the completion-waiter goroutine
// (waiter.Waiter, which writes EndFrame). Pacer itself stays
// lock-free, as its own doc comment promises; Guarded is what turns
// "single external lock" from a calling convention into something
// actually enforced when two goroutines share one instance.
type Guarded struct {
	mu sync.Mutex
	p  *Pacer
}

// NewGuarded returns a Guarded wrapping a freshly constructed Pacer.
func NewGuarded() *Guarded {
	return &Guarded{p: New()}
}

// SetTrace enables or disables raw pre-floor frame-time reporting.
func (g *Guarded) SetTrace(trace bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p.Trace = trace
}

// SetTargetFrameTime updates the FPS floor.
func (g *Guarded) SetTargetFrameTime(ns Clock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p.SetTargetFrameTime(ns)
}

// TargetFrameTime returns the currently configured FPS floor.
func (g *Guarded) TargetFrameTime() Clock {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.p.TargetFrameTime()
}

// GetWaitTarget computes the absolute wake-up time for frameID.
func (g *Guarded) GetWaitTarget(frameID FrameID) Clock {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.p.GetWaitTarget(frameID)
}

// BeginFrame commits a begin event for frameID.
func (g *Guarded) BeginFrame(frameID FrameID, target, timestamp Clock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p.BeginFrame(frameID, target, timestamp)
}

// EndFrame commits an end event for frameID, observed at timestamp.
// Called from the completion waiter goroutine, never from the
// simulation thread — Guarded's lock is what lets both share one
// Pacer safely.
func (g *Guarded) EndFrame(frameID FrameID, timestamp Clock) FrameResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.p.EndFrame(frameID, timestamp)
}

// Reset re-initializes all pacer state except the FPS floor.
func (g *Guarded) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.p.Reset()
}
