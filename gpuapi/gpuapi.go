// Package gpuapi is the typed boundary between the frame lifecycle
// orchestrator and an explicit-submission, explicit-presentation GPU
// API (the shape Vulkan, and similar APIs, expose). The actual loader
// and dispatch-table plumbing that implements these interfaces for a
// real driver is an external collaborator and out of scope here — see
// SPEC_FULL.md.
package gpuapi

import "context"

// Sentinel is a GPU-completion object: created by Device.CreateSentinel
// before the real present is forwarded, and signaled exactly once when
// the submitted work finishes on the GPU.
type Sentinel interface {
	// Wait blocks until the sentinel is signaled or ctx is canceled.
	// The completion waiter calls this with a context that is never
	// canceled during normal operation — the wait is scoped to the
	// device's lifetime instead, per the concurrency model.
	Wait(ctx context.Context) error

	// Destroy releases the sentinel. Called exactly once, after Wait
	// returns (or without waiting, during shutdown drain).
	Destroy()
}

// Device is the minimal per-logical-device surface the orchestrator
// needs. An implementation corresponds to one GPU logical device (one
// VkDevice, in Vulkan terms) plus its next-layer dispatch table.
type Device interface {
	// CreateSentinel allocates a new completion sentinel (e.g. a fence).
	// A failure here is a §7 "sentinel-create failure": the caller logs
	// and continues without tracking that frame.
	CreateSentinel() (Sentinel, error)

	// SubmitPresentSync submits a sync operation that waits on the
	// application's presentation semaphores, signals them back so they
	// remain reusable, and signals sentinel on completion. Called
	// before the real present call is forwarded to the next layer.
	SubmitPresentSync(sentinel Sentinel) error
}

// AcquireResult is the outcome of an image-acquire call the
// orchestrator inspects for the "transient acquire failure" error
// class (§7).
type AcquireResult struct {
	// Err is non-nil when the acquire failed (alt-tab, resize, or a
	// lost swapchain). The orchestrator never suppresses or replaces
	// it — the host call must return the underlying result unchanged.
	Err error
}
