package gpuapi

import (
	"fmt"
	"sync"
	"unsafe"

	pointer "github.com/mattn/go-pointer"
)

// Registry maps opaque C-ABI handles (the dispatch key a layer
// receives from the loader, e.g. the address behind a VkDevice) to the
// Go Device value responsible for it. It exists because cgo callback
// boundaries cannot carry a Go pointer with a Go value inside it
// safely across the C side; go-pointer's save/restore table gives us a
// stable unsafe.Pointer to hand across that boundary instead.
type Registry struct {
	mu      sync.RWMutex
	byHTag  map[unsafe.Pointer]Device
}

// NewRegistry returns an empty handle registry.
func NewRegistry() *Registry {
	return &Registry{byHTag: make(map[unsafe.Pointer]Device)}
}

// Register saves dev behind a new opaque handle and returns it. The
// handle must be passed to Unregister exactly once, when the
// underlying device is destroyed, to release the go-pointer slot.
func (r *Registry) Register(dev Device) unsafe.Pointer {
	h := pointer.Save(dev)
	r.mu.Lock()
	r.byHTag[h] = dev
	r.mu.Unlock()
	return h
}

// Lookup resolves a previously registered handle back to its Device.
// It returns an error if the handle is unknown, which the caller
// should treat as a fatal binding error rather than a recoverable one
// — it means the loader handed us a dispatch key we never registered.
func (r *Registry) Lookup(h unsafe.Pointer) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dev, ok := r.byHTag[h]
	if !ok {
		return nil, fmt.Errorf("gpuapi: unregistered device handle %v", h)
	}
	return dev, nil
}

// Unregister releases the handle and the go-pointer slot behind it.
// Calling it twice for the same handle, or with a handle never
// returned by Register, is a caller bug.
func (r *Registry) Unregister(h unsafe.Pointer) {
	r.mu.Lock()
	delete(r.byHTag, h)
	r.mu.Unlock()
	pointer.Unref(h)
}
