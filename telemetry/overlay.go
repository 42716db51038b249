package telemetry

import "sync"

// SymbolResolver models the dlopen/dlsym contract of an in-process
// overlay (e.g. a stats HUD sharing the target process) that receives
// metrics without linking against this module directly: the overlay
// exposes a single well-known symbol, overlay_SetMetrics, which is
// resolved at runtime and called with the latest values.
//
// OverlaySink implements the calling side of that contract in pure
// Go — Register takes the SetMetricsFunc a cgo shim obtained for that
// symbol; nothing here actually calls dlopen or dlsym itself, since
// that belongs to the process embedding this module.
type SymbolResolver interface {
	// Resolve returns the function bound to symbol, or nil if the
	// overlay never registered one under that name.
	Resolve(symbol string) SetMetricsFunc
}

// SetMetricsFunc is the shape of the overlay_SetMetrics symbol: a
// parallel pair of names and values, mirroring the C signature
// overlay_SetMetrics(names **char, values *float, count size_t). names
// and values always have the same length; values are in milliseconds,
// ready to render directly.
type SetMetricsFunc func(names []string, values []float32)

// OverlaySink is a Sink that forwards frames to whatever function is
// currently registered under the overlay_SetMetrics symbol. Register
// is safe to call concurrently with Observe; a nil registration makes
// Observe a no-op, matching an overlay that hasn't attached yet.
type OverlaySink struct {
	mu sync.RWMutex
	fn SetMetricsFunc
}

// NewOverlaySink returns an OverlaySink with no function registered.
func NewOverlaySink() *OverlaySink {
	return &OverlaySink{}
}

// Register binds fn as the current overlay_SetMetrics implementation.
// Passing nil unregisters it.
func (o *OverlaySink) Register(fn SetMetricsFunc) {
	o.mu.Lock()
	o.fn = fn
	o.mu.Unlock()
}

// Resolve implements SymbolResolver for the single symbol this sink
// knows about.
func (o *OverlaySink) Resolve(symbol string) SetMetricsFunc {
	if symbol != "overlay_SetMetrics" {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fn
}

// Observe implements Sink. It always reports latency_ms; frame_time_ms
// is only included when f carries a frame time, so the overlay never
// renders a zero value for frames the pacer reports none for (the
// first frame after a cold start or reset, or a frame ending out of
// order).
func (o *OverlaySink) Observe(f Frame) {
	o.mu.RLock()
	fn := o.fn
	o.mu.RUnlock()
	if fn == nil {
		return
	}

	names := make([]string, 0, 2)
	values := make([]float32, 0, 2)

	names = append(names, "latency_ms")
	values = append(values, float32(f.Latency)/1e6)

	if f.HasFrameTime {
		names = append(names, "frame_time_ms")
		values = append(values, float32(f.FrameTime)/1e6)
	}

	fn(names, values)
}
