package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ishitatsuyuki/LatencyFleX/gpuapi"
	"github.com/ishitatsuyuki/LatencyFleX/internal/idle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/pacer"
	"github.com/ishitatsuyuki/LatencyFleX/internal/waiter"
)

type instantSentinel struct{}

func (instantSentinel) Wait(ctx context.Context) error { return nil }
func (instantSentinel) Destroy()                        {}

type fakeDevice struct{ submits int }

func (f *fakeDevice) CreateSentinel() (gpuapi.Sentinel, error) { return instantSentinel{}, nil }
func (f *fakeDevice) SubmitPresentSync(gpuapi.Sentinel) error {
	f.submits++
	return nil
}

type recordingSink struct {
	started []string
}

func (r *recordingSink) RecalibrationStarted(episodeID uuid.UUID, reason string) {
	r.started = append(r.started, reason)
}

func TestWaitAndBeginFrame_ColdStartReturnsImmediately(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	o := New(p, it, nil, nil)

	start := time.Now()
	o.WaitAndBeginFrame()
	if time.Since(start) > 20*time.Millisecond {
		t.Errorf("cold start WaitAndBeginFrame took too long")
	}
}

func TestWaitAndBeginFrame_Placebo_NeverSleeps(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	o := New(p, it, nil, nil)
	o.Placebo = true

	p.BeginFrame(1, 0, 0)
	p.EndFrame(1, 20_000_000)

	start := time.Now()
	o.WaitAndBeginFrame()
	if time.Since(start) > 5*time.Millisecond {
		t.Errorf("placebo mode should never sleep, took %v", time.Since(start))
	}
}

func TestWaitAndBeginFrame_IncrementsSimCounter(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	o := New(p, it, nil, nil)
	o.Placebo = true

	o.WaitAndBeginFrame()
	o.WaitAndBeginFrame()
	o.WaitAndBeginFrame()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.simCounter != 3 {
		t.Errorf("simCounter = %d after 3 calls, want 3", o.simCounter)
	}
}

func TestQueuePresentIntercept_SubmitsAndEnqueues(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	w := waiter.New(p, it, nil, nil)
	defer w.Close()
	dev := &fakeDevice{}
	o := New(p, it, nil, nil)

	p.BeginFrame(1, 0, 0)
	o.QueuePresentIntercept(dev, w)

	deadline := time.Now().Add(time.Second)
	for dev.submits == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if dev.submits != 1 {
		t.Errorf("SubmitPresentSync called %d times, want 1", dev.submits)
	}
}

func TestRecalibrate_ResetsCountersAndNotifiesSink(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	sink := &recordingSink{}
	o := New(p, it, sink, nil)

	o.recalibrate("test forced reset")

	if len(sink.started) != 1 || sink.started[0] != "test forced reset" {
		t.Errorf("sink did not observe recalibration: %+v", sink.started)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.simCounter != 1 || o.renderCounter != 0 || o.needsReset || o.failsafeStreak != 0 {
		t.Errorf("recalibrate did not fully reset state: %+v", o)
	}
}

func TestNoteFailsafeOutcome_RunawayTriggersReset(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	sink := &recordingSink{}
	o := New(p, it, sink, nil)

	for i := 0; i < failsafeRunawayThreshold; i++ {
		o.noteFailsafeOutcome(true)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.started) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(sink.started) != 1 {
		t.Errorf("expected exactly one recalibration after runaway streak, got %d", len(sink.started))
	}
}

func TestWaitAndBeginFrame_RenderCounterCaughtUp_Recalibrates(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	sink := &recordingSink{}
	o := New(p, it, sink, nil)
	o.renderCounter = 5

	start := time.Now()
	o.WaitAndBeginFrame()
	if time.Since(start) < recalibrationSleep {
		t.Errorf("WaitAndBeginFrame with sim_counter <= render_counter did not recalibrate, took %v", time.Since(start))
	}
	if len(sink.started) != 1 {
		t.Errorf("expected exactly one recalibration, got %d", len(sink.started))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.simCounter != 1 {
		t.Errorf("simCounter after recalibration = %d, want 1", o.simCounter)
	}
}

func TestQueuePresentIntercept_SimCounterOverrun_SetsNeedsReset(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	o := New(p, it, nil, nil)
	o.simCounter = 20

	o.QueuePresentIntercept(nil, nil)

	o.mu.Lock()
	needsReset := o.needsReset
	o.mu.Unlock()
	if !needsReset {
		t.Errorf("QueuePresentIntercept with sim_counter far ahead of render_counter did not set needs_reset")
	}
}

func TestNotifyAcquireError_SetsNeedsReset(t *testing.T) {
	p := pacer.NewGuarded()
	it := idle.New()
	o := New(p, it, nil, nil)

	o.NotifyAcquireError(errors.New("VK_ERROR_OUT_OF_DATE_KHR"))

	o.mu.Lock()
	needsReset := o.needsReset
	o.mu.Unlock()
	if !needsReset {
		t.Errorf("NotifyAcquireError did not set needs_reset")
	}
}
