// Package telemetry defines the observation boundary frame results
// cross on their way out of the completion waiter, plus two concrete
// sinks: a symbol-resolved in-process overlay contract and an MQTT
// publisher for out-of-process latency dashboards.
package telemetry

import "github.com/ishitatsuyuki/LatencyFleX/internal/pacer"

// Frame is the flattened, sink-facing view of a pacer.FrameResult,
// stamped with the frame id the pacer's own result type omits.
type Frame struct {
	FrameID      uint64
	Latency      pacer.Clock
	FrameTime    pacer.Clock
	HasFrameTime bool
	RawFrameTime pacer.Clock
	HasRaw       bool
}

// Sink receives one Frame per completed frame. Observe must not block:
// it is called synchronously from the completion waiter's worker
// goroutine, and a slow sink would add latency to every subsequent
// frame's completion notification.
type Sink interface {
	Observe(f Frame)
}

// NopSink discards everything. It is the default when no telemetry
// backend is configured.
type NopSink struct{}

// Observe implements Sink.
func (NopSink) Observe(Frame) {}

// WaiterSink adapts a telemetry.Sink to the waiter.Sink interface,
// which is expressed in terms of the pacer's own result type to avoid
// an import cycle between internal/waiter and telemetry.
type WaiterSink struct {
	sink Sink
}

// Adapt wraps sink so it can be passed to waiter.New.
func Adapt(sink Sink) *WaiterSink {
	return &WaiterSink{sink: sink}
}

// Observe implements waiter.Sink.
func (a *WaiterSink) Observe(frameID uint64, result pacer.FrameResult) {
	a.sink.Observe(Frame{
		FrameID:      frameID,
		Latency:      result.Latency,
		FrameTime:    result.FrameTime,
		HasFrameTime: result.HasFrameTime,
		RawFrameTime: result.RawFrameTime,
		HasRaw:       result.HasRawFrameTime,
	})
}
