package watcher

import "sync/atomic"

// Stats is a snapshot of watcher counters.
type Stats struct {
	Frames     uint64 `json:"frames"`
	Decoded    uint64 `json:"decoded"`
	Events     uint64 `json:"events"`
	Suppressed uint64 `json:"suppressed"`
	ReadErrors uint64 `json:"read_errors"`
	Rollovers  uint64 `json:"rollovers"`

	// Kernel ring counters, refreshed at each rollover when the capture
	// source exposes them.
	KernelReceived uint64 `json:"kernel_received,omitempty"`
	KernelDropped  uint64 `json:"kernel_dropped,omitempty"`
}

type counters struct {
	frames         atomic.Uint64
	decoded        atomic.Uint64
	events         atomic.Uint64
	suppressed     atomic.Uint64
	readErrors     atomic.Uint64
	rollovers      atomic.Uint64
	kernelReceived atomic.Uint64
	kernelDropped  atomic.Uint64
}

// Stats returns the current counters. Safe to call from any goroutine.
func (w *Watcher) Stats() Stats {
	return Stats{
		Frames:         w.stats.frames.Load(),
		Decoded:        w.stats.decoded.Load(),
		Events:         w.stats.events.Load(),
		Suppressed:     w.stats.suppressed.Load(),
		ReadErrors:     w.stats.readErrors.Load(),
		Rollovers:      w.stats.rollovers.Load(),
		KernelReceived: w.stats.kernelReceived.Load(),
		KernelDropped:  w.stats.kernelDropped.Load(),
	}
}
