// Package lifecycle implements the frame lifecycle orchestrator: the
// component that ties the pacer, idle tracker and completion waiter
// together into the two entry points a hooked application actually
// calls every frame — a wait-and-begin call on the simulation thread,
// and a present-intercept call on the render thread.
//
// It also owns recalibration (sim/render counter desync recovery) and
// the failsafe clamp that prevents a mispredicting pacer from ever
// scheduling a wait longer than a hard ceiling.
package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ishitatsuyuki/LatencyFleX/gpuapi"
	"github.com/ishitatsuyuki/LatencyFleX/internal/idle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/pacer"
	"github.com/ishitatsuyuki/LatencyFleX/internal/waiter"
)

const (
	// maxCounterDrift bounds how far the simulation counter may lead the
	// render counter (present side) before the orchestrator concludes
	// the two threads have desynced (a dropped present, a device-lost
	// recovery) and forces recalibration instead of trusting the
	// pacer's state. The complementary wait-side check — the render
	// counter catching up to or passing the simulation counter — needs
	// no threshold: any non-positive lead is itself the desync.
	maxCounterDrift = pacer.FrameID(16)

	// recalibrationSleep is how long wait_and_begin_frame blocks the
	// simulation thread once recalibration starts, giving in-flight
	// frames on the render thread a chance to drain before the pacer
	// and counters are reset.
	recalibrationSleep = 200 * time.Millisecond

	// failsafeCeiling is the hard upper bound on any single computed
	// wait, independent of what the pacer's estimators predict. It
	// exists so a temporarily wild estimate (e.g. right after a
	// resolution change) cannot stall the simulation thread for an
	// unbounded amount of time.
	failsafeCeiling = pacer.Clock(50_000_000) // 50ms

	// failsafeRunawayThreshold is how many consecutive frames must hit
	// the failsafe ceiling before the orchestrator treats it as a
	// systemic problem (not a one-off) and forces recalibration.
	failsafeRunawayThreshold = 5
)

// Clock returns the current time in the pacer's nanosecond clock
// domain. Overridable in tests.
var Clock = func() pacer.Clock {
	return pacer.Clock(time.Now().UnixNano())
}

// Sink is notified once per recalibration episode, primarily so the
// telemetry layer can log why a stutter happened.
type Sink interface {
	RecalibrationStarted(episodeID uuid.UUID, reason string)
}

// Orchestrator is the process-wide singleton that a hooked application
// interacts with. There is exactly one Orchestrator per process,
// shared across every registered GPU device — it owns the simulation
// and render frame counters and the pacer/idle-tracker state that
// counter desync detection resets. Construct with New.
type Orchestrator struct {
	pacer *pacer.Guarded
	idle  *idle.Tracker
	log   *slog.Logger
	sink  Sink

	// Placebo, when true, disables pacing entirely: wait_and_begin_frame
	// never requests a pacing sleep (a pending recalibration still
	// performs its recalibration sleep). Present
	// interception still runs, so latency and frame-time telemetry keep
	// flowing for comparison against a paced run.
	Placebo bool

	mu             sync.Mutex
	simCounter     pacer.FrameID
	renderCounter  pacer.FrameID
	needsReset     bool
	failsafeStreak int
}

// New builds an Orchestrator around an already-constructed pacer and
// idle tracker (both shared with every waiter.Waiter this Orchestrator
// will ever be asked to drive present interception through, so
// completion-side EndFrame calls serialize against this orchestrator's
// GetWaitTarget/BeginFrame/Reset calls through Guarded's single lock).
func New(p *pacer.Guarded, it *idle.Tracker, sink Sink, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		pacer: p,
		idle:  it,
		log:   log,
		sink:  sink,
	}
}

// WaitAndBeginFrame is called once per simulation tick, before game
// logic for the frame it allocates runs. It owns and increments the
// simulation counter itself — callers never supply a frame id, since
// this is the sole point at which one is minted — then blocks until
// the pacer's computed target time, unless the idle tracker determines
// no frame is currently in flight (in which case it returns
// immediately), Placebo is set, or the failsafe ceiling caps the wait.
//
// It also carries the wait-side half of desync detection: if the
// render counter has caught up to or passed the freshly incremented
// simulation counter, the render thread cannot possibly still be
// behind, so the pacer's slot bookkeeping is treated as untrustworthy.
// This condition fires even at equality, the typical engine-startup
// case where a present arrived before the first simulation tick. The
// very first call on fresh counters (simulation 1, render 0) does not
// trigger it. Whatever call site set
// needs_reset — this check, QueuePresentIntercept's present-side
// check, NotifyAcquireError, or a failsafe runaway — is resolved here,
// since recalibration always runs on the simulation thread.
func (o *Orchestrator) WaitAndBeginFrame() {
	o.mu.Lock()
	o.simCounter++
	frameID := o.simCounter
	if frameID <= o.renderCounter {
		o.needsReset = true
	}
	needsReset := o.needsReset
	o.mu.Unlock()

	if needsReset {
		o.recalibrate("sim/render counter desync")
		// The counter has already been incremented for this call;
		// recalibrate reset it to 1 rather than 0, so the rest of this
		// invocation must re-read it instead of reusing the pre-reset id.
		o.mu.Lock()
		frameID = o.simCounter
		o.mu.Unlock()
	}

	if o.Placebo {
		o.pacer.BeginFrame(frameID, 0, Clock())
		return
	}

	target := o.pacer.GetWaitTarget(frameID)
	now := Clock()

	var effectiveTimestamp pacer.Clock

	if target == 0 {
		effectiveTimestamp = now
	} else {
		clamped, clampedHit := o.clampToFailsafe(target, now)
		dur := time.Duration(clamped - now)
		if dur > 0 {
			if o.idle.SleepAndBegin(uint64(frameID), dur) {
				effectiveTimestamp = clamped
			} else {
				effectiveTimestamp = Clock()
			}
		} else {
			o.idle.SleepAndBegin(uint64(frameID), 0)
			effectiveTimestamp = now
		}
		o.noteFailsafeOutcome(clampedHit)
	}

	o.pacer.BeginFrame(frameID, target, effectiveTimestamp)
}

// clampToFailsafe caps target so it never asks for a wait longer than
// failsafeCeiling from now, reporting whether the ceiling was hit.
func (o *Orchestrator) clampToFailsafe(target, now pacer.Clock) (pacer.Clock, bool) {
	ceiling := now + failsafeCeiling
	if target > ceiling {
		return ceiling, true
	}
	return target, false
}

// noteFailsafeOutcome tracks consecutive failsafe hits and forces
// recalibration once the runaway threshold is crossed — a single
// clamp is unremarkable (a hitch), but a run of them means the
// pacer's model has diverged from reality.
func (o *Orchestrator) noteFailsafeOutcome(hit bool) {
	o.mu.Lock()
	if hit {
		o.failsafeStreak++
	} else {
		o.failsafeStreak = 0
	}
	streak := o.failsafeStreak
	needsReset := streak >= failsafeRunawayThreshold && !o.needsReset
	if needsReset {
		o.needsReset = true
	}
	o.mu.Unlock()

	if needsReset {
		o.recalibrate("failsafe ceiling hit on 5 consecutive frames")
	}
}

// QueuePresentIntercept is called from the render thread's present
// call, after the application's own submissions but before the real
// present is forwarded to the next layer. It owns and increments the
// render counter itself, then submits a GPU-side sync point on device
// and hands the resulting sentinel to w, the completion waiter for
// that device. device may be nil if only the counters matter; in
// that case the render counter still advances but nothing is
// enqueued.
//
// It also carries the present-side half of desync detection: if the
// simulation counter has run more than maxCounterDrift frames ahead of
// this present, the render thread is stalled or dropping presents, and
// needs_reset is set for the next WaitAndBeginFrame call to resolve —
// recalibration itself always runs on the simulation thread, never
// here.
//
// A failure to create or submit the sentinel is logged and treated as
// a dropped sample: the frame is simply not tracked, matching the
// sentinel-create-failure handling in the error design.
func (o *Orchestrator) QueuePresentIntercept(device gpuapi.Device, w *waiter.Waiter) {
	o.mu.Lock()
	o.renderCounter++
	frameID := o.renderCounter
	if o.simCounter > frameID+maxCounterDrift {
		o.needsReset = true
	}
	o.mu.Unlock()

	if device == nil {
		return
	}

	sentinel, err := device.CreateSentinel()
	if err != nil {
		o.log.Warn("failed to create completion sentinel", "frame_id", uint64(frameID), "error", err)
		return
	}
	if err := device.SubmitPresentSync(sentinel); err != nil {
		o.log.Warn("failed to submit present sync", "frame_id", uint64(frameID), "error", err)
		sentinel.Destroy()
		return
	}
	w.Enqueue(frameID, sentinel)
}

// NotifyAcquireError is called when the application's image-acquire
// call fails or returns a non-optimal result (window resize, lost
// swapchain). It is not itself a fatal condition, but the render
// counter can no longer be trusted to reflect real presents once
// acquires start failing, so it sets needs_reset the same as an
// observed counter desync; the next WaitAndBeginFrame call performs
// the actual recalibration sleep.
func (o *Orchestrator) NotifyAcquireError(err error) {
	o.mu.Lock()
	o.needsReset = true
	o.mu.Unlock()
	o.log.Debug("swapchain acquire returned non-success", "error", err)
}

// recalibrate sleeps for recalibrationSleep, then resets the pacer and
// both counters. simCounter is reset to 1, not 0: the WaitAndBeginFrame
// call in progress has already incremented it once for its frame, so
// resuming at 1 keeps that frame's id consistent with the reset render
// counter of 0 instead of colliding with it. On the desync path
// WaitAndBeginFrame re-reads the counter and begins the frame as 1;
// when noteFailsafeOutcome triggers recalibration, the frame in
// progress still begins under its pre-reset id, and its later end is
// ignored by the reset pacer because no slot holds that id. Called
// outside of o.mu so the sleep does not block QueuePresentIntercept
// (which only needs o.mu briefly to record the render counter).
func (o *Orchestrator) recalibrate(reason string) {
	episodeID := uuid.New()
	if o.sink != nil {
		o.sink.RecalibrationStarted(episodeID, reason)
	}
	o.log.Info("recalibrating frame pacer", "episode_id", episodeID.String(), "reason", reason)

	time.Sleep(recalibrationSleep)

	o.pacer.Reset()
	o.mu.Lock()
	o.simCounter = 1
	o.renderCounter = 0
	o.needsReset = false
	o.failsafeStreak = 0
	o.mu.Unlock()
}
