// Package app wires the pacer, idle tracker, completion waiter and
// frame lifecycle orchestrator into a single process-wide Manager, and
// exposes the small set of package-level functions a hooked layer or
// engine plugin calls across its C-ABI boundary.
package app

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/ishitatsuyuki/LatencyFleX/config"
	"github.com/ishitatsuyuki/LatencyFleX/gpuapi"
	"github.com/ishitatsuyuki/LatencyFleX/hooks/engine"
	"github.com/ishitatsuyuki/LatencyFleX/internal/idle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/lifecycle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/pacer"
	"github.com/ishitatsuyuki/LatencyFleX/internal/telemetrybus"
	"github.com/ishitatsuyuki/LatencyFleX/internal/waiter"
	"github.com/ishitatsuyuki/LatencyFleX/telemetry"
)

// telemetryBufferFrames bounds how many frames a telemetry backend may
// lag behind before its samples start getting dropped. 4 is enough to
// absorb a scheduling hiccup without ever growing unbounded.
const telemetryBufferFrames = 4

// Manager owns the single process-wide pacer, idle tracker and frame
// lifecycle orchestrator shared by every registered GPU device, plus
// the telemetry fan-out bus new devices publish onto. Scheduling is
// per logical application instance, not per GPU queue, so there is
// exactly one pacer/orchestrator regardless of how many devices get
// registered; only the completion waiter is per-device. There is
// exactly one Manager per process; see Init.
type Manager struct {
	cfg        config.Config
	bus        *telemetrybus.Bus
	registry   *gpuapi.Registry
	log        *slog.Logger
	engineHook *engine.Hook

	pacer *pacer.Guarded
	idle  *idle.Tracker
	orch  *lifecycle.Orchestrator

	deviceMu sync.Mutex
	devices  map[unsafe.Pointer]*deviceState
}

var (
	globalMu sync.Mutex
	global   *Manager
)

// Init configures the process-wide Manager from cfg. It is called
// exactly once, from the layer's or engine plugin's own load hook,
// before any other exported function in this package. Calling it more
// than once replaces the previous Manager and orphans any device
// waiters registered on it.
func Init(cfg config.Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	bus := telemetrybus.New()
	if cfg.MQTTBroker != "" {
		mqttSink := telemetry.NewMQTTSink(telemetry.MQTTConfig{
			Broker: cfg.MQTTBroker,
			Topic:  cfg.MQTTTopic,
		}, log)
		forward(bus, "mqtt", mqttSink)
	}

	p := pacer.NewGuarded()
	p.SetTrace(cfg.Trace)
	p.SetTargetFrameTime(pacer.Clock(cfg.TargetFrameTimeNanos()))
	it := idle.New()
	orch := lifecycle.New(p, it, nil, log)
	orch.Placebo = cfg.Placebo

	m := &Manager{
		cfg:      cfg,
		bus:      bus,
		registry: gpuapi.NewRegistry(),
		log:      log,
		pacer:    p,
		idle:     it,
		orch:     orch,
		devices:  make(map[unsafe.Pointer]*deviceState),
	}
	if cfg.EngineHookAddr != 0 {
		m.engineHook = &engine.Hook{Name: "FEngineLoop::Tick", Addr: uintptr(cfg.EngineHookAddr)}
	}

	globalMu.Lock()
	global = m
	globalMu.Unlock()

	return m
}

// EngineHook returns the trampoline description built from
// LFX_UE4_HOOK, or nil if no address was configured. An engine plugin
// pairs this with its own engine.Installer to actually patch the
// address; this package only resolves the boundary value from config.
func (m *Manager) EngineHook() *engine.Hook {
	return m.engineHook
}

// forward subscribes id to bus and pumps every frame it receives into
// sink on its own goroutine, so a slow sink (network I/O) only ever
// costs that goroutine time, never the completion waiter's.
func forward(bus *telemetrybus.Bus, id string, sink telemetry.Sink) {
	ch, err := bus.Subscribe(id, telemetryBufferFrames)
	if err != nil {
		return
	}
	go func() {
		for f := range ch {
			sink.Observe(f)
		}
	}()
}

// deviceState bundles the per-device pieces QueuePresentIntercept
// needs: the GPU boundary and its completion
// waiter. Pacing itself is process-wide, owned by Manager, and shared
// across every deviceState.
type deviceState struct {
	handle unsafe.Pointer
	mgr    *Manager
	device gpuapi.Device
	wait   *waiter.Waiter
}

// RegisterDevice adopts dev as a new logical device. dev is saved in
// the manager's handle registry, the same mechanism the GPU-API loader
// itself uses to hand this module an opaque dispatch key, so a hook
// written in C can round-trip the returned handle through its own
// per-device storage. Only the completion waiter is constructed per
// device; pacing, idle tracking and recalibration all run through the
// Manager's single shared orchestrator. Typically called once per
// VkDevice from vkCreateDevice's intercept.
func (m *Manager) RegisterDevice(dev gpuapi.Device) *deviceState {
	handle := m.registry.Register(dev)
	w := waiter.New(m.pacer, m.idle, telemetry.Adapt(m.bus), m.log)

	d := &deviceState{handle: handle, mgr: m, device: dev, wait: w}

	m.deviceMu.Lock()
	m.devices[handle] = d
	m.deviceMu.Unlock()

	return d
}

// UnregisterDevice stops the device's completion waiter and releases
// its handle. Called from vkDestroyDevice's intercept.
func (m *Manager) UnregisterDevice(d *deviceState) {
	d.wait.Close()
	m.deviceMu.Lock()
	delete(m.devices, d.handle)
	m.deviceMu.Unlock()
	m.registry.Unregister(d.handle)
}

// deviceByHandle resolves a handle previously returned by
// RegisterDevice back to its deviceState, for package-level functions
// that only have the opaque handle a C-ABI caller passed through.
func (m *Manager) deviceByHandle(handle unsafe.Pointer) *deviceState {
	m.deviceMu.Lock()
	defer m.deviceMu.Unlock()
	return m.devices[handle]
}

// WaitAndBeginFrame blocks the calling (simulation) thread until the
// shared pacer decides the next frame should begin. It is process-wide
// rather than per-device: there is one simulation tick per logical
// application instance regardless of how many devices are registered.
func (m *Manager) WaitAndBeginFrame() {
	m.orch.WaitAndBeginFrame()
}

// SetTargetFrameTime updates the FPS floor at runtime (e.g. in
// response to a display mode change), independent of the value
// FromEnv originally produced.
func (m *Manager) SetTargetFrameTime(nanos int64) {
	m.pacer.SetTargetFrameTime(pacer.Clock(nanos))
}

// QueuePresentIntercept records a present for this device and hands
// its completion sentinel to the device's waiter.
func (d *deviceState) QueuePresentIntercept() {
	d.mgr.orch.QueuePresentIntercept(d.device, d.wait)
}

// Handle returns the opaque handle RegisterDevice returned for d, for
// callers that need to round-trip it through C-side dispatch storage.
func (d *deviceState) Handle() unsafe.Pointer {
	return d.handle
}

// Global returns the process-wide Manager set up by Init, or nil if
// Init has not run yet.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// WaitAndBeginFrame is the C-ABI-shaped package-level entry point a
// cgo export shim calls for wait_and_begin_frame() -> void. It is a
// no-op if Init has not run yet.
func WaitAndBeginFrame() {
	if m := Global(); m != nil {
		m.WaitAndBeginFrame()
	}
}

// QueuePresentIntercept is the C-ABI-shaped package-level entry point
// for the present-intercept call, keyed by the opaque device handle a
// hook received from RegisterDevice. It is a no-op if Init has not run
// yet or handle is unknown (e.g. a device that was never registered,
// or was already unregistered).
func QueuePresentIntercept(handle unsafe.Pointer) {
	m := Global()
	if m == nil {
		return
	}
	if d := m.deviceByHandle(handle); d != nil {
		d.QueuePresentIntercept()
	}
}

// SetTargetFrameTime is the C-ABI-shaped package-level entry point for
// updating the FPS floor at runtime. It is a no-op if Init has not run
// yet.
func SetTargetFrameTime(nanos int64) {
	if m := Global(); m != nil {
		m.SetTargetFrameTime(nanos)
	}
}
