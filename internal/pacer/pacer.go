// Package pacer implements the single-instance frame pacing state
// machine: given observed begin/end timestamps for a stream of frame
// ids, it estimates GPU latency and inverse throughput, then computes
// when the next simulation tick should begin so the render queue stays
// at a minimal but non-zero depth.
//
// All operations are synchronous and must be called under a single
// external lock — Pacer holds none of its own, matching the
// single-writer model the lifecycle orchestrator enforces.
package pacer

import (
	"math"

	"github.com/ishitatsuyuki/LatencyFleX/internal/ewma"
)

const (
	// upFactor and downFactor bias alternating frames slightly faster
	// or slower than the steady-state rate, decorrelating the latency
	// and inverse-throughput measurements (phase = frame id mod 2, see
	// GetWaitTarget and EndFrame). This is the later, fixed-factor revision of the pacing
	// math; an earlier revision additionally scaled the projection by
	// min(gain, 1), which is intentionally not reproduced here.
	upFactor   = 1.10
	downFactor = 0.985

	minObservedFrameTime = Clock(1_000_000)  // 1ms
	maxObservedFrameTime = Clock(50_000_000) // 50ms
)

// Pacer converts observed frame timing into a wake-up schedule. The
// zero value is not usable; construct with New.
type Pacer struct {
	latencyEst        *ewma.Estimator
	invThroughputEst  *ewma.Estimator
	projCorrection    *ewma.Estimator
	targetFrameTime   Clock // 0 = unlimited, preserved across Reset

	slots [maxInFlightFrames]slot

	hasProjectionBase bool
	projectionBase    Clock

	prevBeginID FrameID
	prevEndID   FrameID

	prevEndTS            Clock
	prevRealEndTS        Clock
	prevPredictionError  Clock

	// Trace, when true, causes callers to receive the raw (pre-floor)
	// per-frame diagnostics alongside the estimates, for structured
	// logging equivalent to the original implementation's trace
	// counters (see SPEC_FULL.md "Perfetto-style trace counters").
	Trace bool
}

// New returns a freshly initialized Pacer with no FPS floor.
func New() *Pacer {
	p := &Pacer{}
	p.initEstimators()
	p.resetState()
	return p
}

func (p *Pacer) initEstimators() {
	p.latencyEst = ewma.New(0.3)
	p.invThroughputEst = ewma.New(0.3)
	p.projCorrection = ewma.NewFullWeight(0.5)
}

func (p *Pacer) resetState() {
	for i := range p.slots {
		p.slots[i] = slot{beginID: noFrame}
	}
	p.hasProjectionBase = false
	p.projectionBase = 0
	p.prevBeginID = noFrame
	p.prevEndID = noFrame
	p.prevEndTS = 0
	p.prevRealEndTS = 0
	p.prevPredictionError = 0
}

// Reset re-initializes all pacer state in place except
// targetFrameTime, which is preserved across recalibration.
func (p *Pacer) Reset() {
	p.latencyEst.Reset(false)
	p.invThroughputEst.Reset(false)
	p.projCorrection.Reset(true)
	p.resetState()
}

// SetTargetFrameTime updates the minimum inter-frame interval (0
// disables the floor). The change is visible starting with the next
// EndFrame call it participates in, and propagates to wake targets
// from the following GetWaitTarget call.
func (p *Pacer) SetTargetFrameTime(ns Clock) {
	p.targetFrameTime = ns
}

// TargetFrameTime returns the currently configured FPS floor.
func (p *Pacer) TargetFrameTime() Clock {
	return p.targetFrameTime
}

// GetWaitTarget computes the absolute wake-up time for frameID. It
// returns 0 if no frame has ended yet (cold start): the caller should
// begin immediately in that case.
func (p *Pacer) GetWaitTarget(frameID FrameID) Clock {
	if p.prevEndID == noFrame {
		return 0
	}

	phase := frameID % 2
	invtpt := p.invThroughputEst.Get()
	latency := p.latencyEst.Get()

	if !p.hasProjectionBase {
		p.projectionBase = p.prevEndTS
		p.hasProjectionBase = true
	} else {
		prevEndSlot := &p.slots[p.prevEndID%maxInFlightFrames]
		predictionErr := p.prevEndTS - (p.projectionBase + prevEndSlot.projectedEndTS)
		prevCompApplied := prevEndSlot.compApplied

		clampedErr := maxClock(0, predictionErr)
		clampedPrev := maxClock(0, p.prevPredictionError-prevCompApplied)
		p.projCorrection.Update(float64(clampedErr - clampedPrev))
		p.prevPredictionError = predictionErr
	}

	comp := roundClock(p.projCorrection.Get())
	curSlot := &p.slots[frameID%maxInFlightFrames]
	curSlot.compApplied = comp

	beginSlot := &p.slots[p.prevBeginID%maxInFlightFrames]
	delta := float64(int64(frameID) - int64(p.prevBeginID))

	upTerm := 1.0
	if phase == 0 { // up phase: relaxed pacing, faster than steady state
		upTerm = 1 / upFactor
	}

	target := p.projectionBase + beginSlot.projectedEndTS + comp +
		roundClock((delta+upTerm-1)*invtpt/downFactor-latency)

	newProjection := beginSlot.projectedEndTS + comp +
		roundClock(delta*invtpt/downFactor)
	curSlot.projectedEndTS = newProjection

	return target
}

// BeginFrame commits a begin event for frameID. target is the value
// previously returned by GetWaitTarget for this frame (0 if none was
// available); timestamp is the effective begin time — the wake target
// itself if a sleep was performed, or the current time otherwise (see
// the idle tracker in package idle for how callers decide which).
func (p *Pacer) BeginFrame(frameID FrameID, target, timestamp Clock) {
	s := &p.slots[frameID%maxInFlightFrames]
	s.beginID = frameID
	s.beginTS = timestamp
	p.prevBeginID = frameID

	if target != 0 {
		// The OS woke us late (or early sleeps were skipped): fold the
		// resulting drift into this frame's compensation bookkeeping so
		// the next GetWaitTarget call doesn't double count it as fresh
		// prediction error.
		forced := timestamp - target
		s.projectedEndTS += forced
		s.compApplied += forced
		p.prevPredictionError += forced
	}
}

// FrameResult reports the measurements produced by EndFrame, when
// available.
type FrameResult struct {
	Latency       Clock
	HasLatency    bool
	FrameTime     Clock
	HasFrameTime  bool
	RawFrameTime  Clock // pre-FPS-floor inter-frame delta, only if Trace is set
	HasRawFrameTime bool
}

// EndFrame commits an end event for frameID, observed at timestamp. If
// the slot frameID maps to is no longer occupied by frameID (the frame
// was superseded by a counter reset), EndFrame is a no-op and the
// zero FrameResult is returned.
func (p *Pacer) EndFrame(frameID FrameID, timestamp Clock) FrameResult {
	s := &p.slots[frameID%maxInFlightFrames]
	if s.beginID != frameID {
		return FrameResult{}
	}

	var result FrameResult
	phase := frameID % 2
	hasPrev := p.prevEndID != noFrame
	rawTimestamp := timestamp

	if p.Trace && hasPrev {
		result.RawFrameTime = rawTimestamp - p.prevRealEndTS
		result.HasRawFrameTime = true
	}

	// Apply the FPS floor before computing latency/frame-time so a
	// capped framerate never feeds an artificially low sample into
	// either estimator. prevRealEndTS keeps tracking the unfloored
	// timestamps so raw frame-time reporting isn't skewed by the floor.
	if p.targetFrameTime != 0 {
		floor := p.prevEndTS + p.targetFrameTime
		if timestamp < floor {
			timestamp = floor
		}
	}

	latencyVal := clamp(timestamp-s.beginTS, minObservedFrameTime, maxObservedFrameTime)
	if phase == 1 { // down phase measures latency
		p.latencyEst.Update(float64(latencyVal))
	}
	result.Latency = latencyVal
	result.HasLatency = true

	if hasPrev && frameID > p.prevEndID {
		framesElapsed := int64(frameID - p.prevEndID)
		frameTimeVal := clamp(Clock(int64(timestamp-p.prevEndTS)/framesElapsed), minObservedFrameTime, maxObservedFrameTime)
		if phase == 0 { // up phase measures throughput
			p.invThroughputEst.Update(float64(frameTimeVal))
		}
		result.FrameTime = frameTimeVal
		result.HasFrameTime = true
	}

	p.prevEndID = frameID
	p.prevEndTS = timestamp
	p.prevRealEndTS = rawTimestamp
	s.beginID = noFrame // free the slot; payload stays for future readers

	return result
}

func maxClock(a, b Clock) Clock {
	if a > b {
		return a
	}
	return b
}

func clamp(v, lo, hi Clock) Clock {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundClock(f float64) Clock {
	return Clock(math.Round(f))
}
