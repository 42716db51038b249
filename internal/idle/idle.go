// Package idle implements the gate that turns a scheduled sleep into a
// no-op when no rendering frame is currently in flight — sleeping
// while the GPU is idle (first frame, paused application) would only
// add latency for no benefit.
package idle

import (
	"sync"
	"time"
)

// noFrame marks "no frame observed yet".
const noFrame uint64 = ^uint64(0)

// Tracker gates the pacer's scheduled sleep on whether a frame is
// currently in flight. It owns its own mutex and condition variable,
// independent of the pacer's lock.
type Tracker struct {
	mu   sync.Mutex
	cond *sync.Cond

	lastBegun    uint64
	lastFinished uint64
}

// New returns a Tracker with no frame yet begun or finished.
func New() *Tracker {
	t := &Tracker{lastBegun: noFrame, lastFinished: noFrame}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// SleepAndBegin waits up to dur, or until no frame is currently in
// flight (last begun == last finished), whichever comes first. It
// always records frameID as the most recently begun frame before
// returning.
//
// Returns true if the sleep ran to completion because a frame really
// was in flight. Returns false if the tracker was already idle, or
// became idle before dur elapsed — the caller should then treat "now"
// as the effective begin time instead of its originally planned wake
// target.
func (t *Tracker) SleepAndBegin(frameID uint64, dur time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	slept := t.waitForIdleOrTimeout(dur)
	t.lastBegun = frameID
	return slept
}

// waitForIdleOrTimeout must be called with t.mu held. It returns false
// as soon as the tracker is or becomes idle, true once dur has
// elapsed without that happening.
func (t *Tracker) waitForIdleOrTimeout(dur time.Duration) bool {
	if t.lastBegun == t.lastFinished {
		return false
	}
	if dur <= 0 {
		return true
	}

	timedOut := false
	timer := time.AfterFunc(dur, func() {
		t.mu.Lock()
		timedOut = true
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer timer.Stop()

	for t.lastBegun != t.lastFinished && !timedOut {
		t.cond.Wait()
	}
	return timedOut
}

// End marks frameID as finished. If this makes the tracker idle (no
// frame in flight), any blocked SleepAndBegin wakes immediately.
func (t *Tracker) End(frameID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFinished = frameID
	if t.lastBegun == t.lastFinished {
		t.cond.Broadcast()
	}
}
