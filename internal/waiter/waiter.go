// Package waiter implements the completion waiter: a per-device FIFO
// queue of pending GPU sentinels, drained by a single dedicated
// goroutine that blocks on each sentinel in submission order and
// forwards the resulting completion timestamp into the pacer and idle
// tracker. Ordering the wait this way keeps end_frame calls
// monotonically increasing without needing a lock shared with the
// submission path.
package waiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ishitatsuyuki/LatencyFleX/gpuapi"
	"github.com/ishitatsuyuki/LatencyFleX/internal/idle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/pacer"
)

// Clock returns the current time in the pacer's nanosecond clock
// domain. It is a variable so tests can substitute a controllable
// clock.
var Clock = func() pacer.Clock {
	return pacer.Clock(time.Now().UnixNano())
}

// Sink receives frame results as they complete, after the pacer has
// recorded them. Implementations must not block; the completion
// waiter's throughput depends on this returning quickly.
type Sink interface {
	Observe(frameID uint64, result pacer.FrameResult)
}

// entry is one queued (sentinel, frame id) pair awaiting completion.
type entry struct {
	frameID  pacer.FrameID
	sentinel gpuapi.Sentinel
}

// Waiter owns the FIFO queue and worker goroutine for a single logical
// device. Construct with New; stop with Close.
type Waiter struct {
	pacer *pacer.Guarded
	idle  *idle.Tracker
	sink  Sink
	log   *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []entry
	closed   bool
	drained  chan struct{}
}

// New starts a Waiter's worker goroutine and returns it. p and it are
// shared with the rest of the frame lifecycle orchestrator and must
// outlive the Waiter. p must be the same Guarded instance the
// orchestrator was built with, so end_frame and wait_and_begin_frame
// serialize through the one lock Guarded holds. sink may be nil.
func New(p *pacer.Guarded, it *idle.Tracker, sink Sink, log *slog.Logger) *Waiter {
	if log == nil {
		log = slog.Default()
	}
	w := &Waiter{
		pacer:   p,
		idle:    it,
		sink:    sink,
		log:     log,
		drained: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue appends a sentinel to the wait queue for frameID. Called
// from the presentation-intercept path immediately after the sync
// submission that will signal sentinel.
func (w *Waiter) Enqueue(frameID pacer.FrameID, sentinel gpuapi.Sentinel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		sentinel.Destroy()
		return
	}
	w.queue = append(w.queue, entry{frameID: frameID, sentinel: sentinel})
	w.cond.Signal()
}

// Close stops accepting new sentinels, destroys whatever remains
// queued without waiting on them, and blocks until the worker
// goroutine has exited.
func (w *Waiter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.drained
}

func (w *Waiter) run() {
	defer close(w.drained)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		if w.closed {
			// Drain remaining entries without waiting on their sentinels.
			pending := w.queue
			w.queue = nil
			w.mu.Unlock()
			for _, e := range pending {
				e.sentinel.Destroy()
			}
			continue
		}
		e := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.waitOne(e)
	}
}

func (w *Waiter) waitOne(e entry) {
	if err := e.sentinel.Wait(context.Background()); err != nil {
		w.log.Warn("gpu sentinel wait failed", "frame_id", uint64(e.frameID), "error", err)
		e.sentinel.Destroy()
		w.idle.End(uint64(e.frameID))
		return
	}
	e.sentinel.Destroy()

	now := Clock()
	result := w.pacer.EndFrame(e.frameID, now)
	w.idle.End(uint64(e.frameID))

	if w.sink != nil {
		w.sink.Observe(uint64(e.frameID), result)
	}
}
