package pacer

import (
	"math"
	"testing"
)

func TestColdStart_ReturnsZeroUntilFirstEnd(t *testing.T) {
	p := New()
	if got := p.GetWaitTarget(1); got != 0 {
		t.Errorf("GetWaitTarget before any EndFrame = %d, want 0", got)
	}
	p.BeginFrame(1, 0, 1000)
	if got := p.GetWaitTarget(2); got != 0 {
		t.Errorf("GetWaitTarget after BeginFrame but before EndFrame = %d, want 0", got)
	}
	p.EndFrame(1, 21_000_000)
	if got := p.GetWaitTarget(2); got == 0 {
		t.Errorf("GetWaitTarget after first EndFrame should be non-zero")
	}
}

func TestSlotUniqueness(t *testing.T) {
	p := New()
	p.BeginFrame(1, 0, 1000)
	before := p.slots[1%maxInFlightFrames]

	// end_frame for a different id mapping to the same slot key must no-op.
	res := p.EndFrame(17, 5000) // 17 % 16 == 1, same slot as frame 1
	if res.HasLatency {
		t.Fatalf("EndFrame for mismatched frame id reported a result: %+v", res)
	}
	after := p.slots[1%maxInFlightFrames]
	if before != after {
		t.Errorf("slot mutated by EndFrame for a non-owning frame id: before=%+v after=%+v", before, after)
	}
}

func TestMonotoneCounters(t *testing.T) {
	p := New()
	var lastEnd FrameID // frame ids start at 1, so 0 is below every real prevEndID
	for i := FrameID(1); i <= 50; i++ {
		target := p.GetWaitTarget(i)
		p.BeginFrame(i, target, Clock(i)*20_000_000)
		if p.prevBeginID != i {
			t.Fatalf("prevBeginID = %d after BeginFrame(%d), want %d", p.prevBeginID, i, i)
		}
		res := p.EndFrame(i, Clock(i)*20_000_000+16_000_000)
		if res.HasLatency && p.prevEndID < lastEnd {
			t.Fatalf("prevEndID went backwards: %d after previously %d", p.prevEndID, lastEnd)
		}
		lastEnd = p.prevEndID
	}
}

func TestResetIdempotent(t *testing.T) {
	p := New()
	feedSteady(p, 60, 20_000_000, 16_667_000)
	p.Reset()
	snap1 := *p
	p.Reset()
	snap2 := *p
	if snap1.hasProjectionBase != snap2.hasProjectionBase ||
		snap1.prevBeginID != snap2.prevBeginID ||
		snap1.prevEndID != snap2.prevEndID {
		t.Errorf("Reset() is not idempotent: %+v vs %+v", snap1, snap2)
	}
}

func TestResetPreservesTargetFrameTime(t *testing.T) {
	p := New()
	p.SetTargetFrameTime(10_000_000)
	p.Reset()
	if got := p.TargetFrameTime(); got != 10_000_000 {
		t.Errorf("TargetFrameTime() after Reset = %d, want 10000000", got)
	}
}

func TestFPSFloor_ClampsFrameTime(t *testing.T) {
	p := New()
	p.SetTargetFrameTime(10_000_000) // 10ms floor
	// Feed frames with a natural 4ms cadence; every reported frame-time
	// (both phases, including the up-phase ones fed to the estimator)
	// must be at least the floor.
	now := Clock(0)
	p.BeginFrame(1, 0, now)
	p.EndFrame(1, now)
	for i := FrameID(2); i <= 40; i++ {
		now += 4_000_000
		target := p.GetWaitTarget(i)
		p.BeginFrame(i, target, now)
		res := p.EndFrame(i, now)
		if res.HasFrameTime && res.FrameTime < 10_000_000 {
			t.Fatalf("frame %d: FrameTime = %d, want >= 10ms floor", i, res.FrameTime)
		}
	}
}

func TestSteadyState_ConvergesToKnownEstimates(t *testing.T) {
	p := New()
	feedSteady(p, 200, 20_000_000, 16_667_000)

	if got := p.latencyEst.Get(); math.Abs(got-20_000_000) > 1_000_000 {
		t.Errorf("latencyEst = %v, want ~20ms", got)
	}
	if got := p.invThroughputEst.Get(); math.Abs(got-16_667_000) > 200_000 {
		t.Errorf("invThroughputEst = %v, want ~16.667ms", got)
	}
}

// feedSteady drives the pacer through n frames with a constant
// begin->end latency and a constant inter-frame end cadence, directly
// controlling timestamps (rather than following the pacer's own wake
// targets) so the EWMA convergence can be checked independently of
// the scheduling math.
func feedSteady(p *Pacer, n int, latency, cadence Clock) {
	beginTS := Clock(0)
	p.BeginFrame(1, 0, beginTS)
	p.EndFrame(1, beginTS+latency)
	for i := FrameID(2); i <= FrameID(n); i++ {
		p.GetWaitTarget(i)
		beginTS += cadence
		p.BeginFrame(i, 0, beginTS)
		p.EndFrame(i, beginTS+latency)
	}
}
