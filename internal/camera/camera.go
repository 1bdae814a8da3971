// Package camera holds the frame acquisition boundary: the single-consumer
// frame source and the face-presence signal pushed by an external detector.
package camera

import (
	"context"
	"sync"
	"sync/atomic"
)

// Source delivers one raw image buffer per call.
type Source interface {
	AcquireFrame(ctx context.Context) ([]byte, error)
}

// PresenceSignal holds the latest face-present reading. Readers never block
// writers, and the zero value reports no face.
type PresenceSignal struct {
	detected atomic.Bool

	mu        sync.Mutex
	listeners []func(bool)
}

// Set records a new reading and notifies listeners when the value changed.
func (p *PresenceSignal) Set(detected bool) {
	if p.detected.Swap(detected) == detected {
		return
	}
	p.mu.Lock()
	listeners := append([]func(bool){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(detected)
	}
}

// Detected reports whether a face is currently in view.
func (p *PresenceSignal) Detected() bool {
	return p.detected.Load()
}

// OnChange registers fn to be called after each change of the reading.
func (p *PresenceSignal) OnChange(fn func(bool)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}
