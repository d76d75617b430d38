// Package watcher turns raw traffic on a network interface into
// rate-limited "port became active" events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phinze/arkade/pkg/capture"
	"github.com/phinze/arkade/pkg/decode"
	"github.com/phinze/arkade/pkg/ports"
	"k8s.io/utils/clock"
)

const (
	// DefaultWindow is the aggregation window used when Config.Window is zero
	DefaultWindow = 5 * time.Second
)

// Handler receives one event per active port per window. It runs on the
// capture goroutine, so slow handlers delay packet processing.
type Handler func(ports.Descriptor)

// OpenFunc opens a capture source. capture.Open is the default.
type OpenFunc func(capture.Options) (capture.Source, error)

// Config holds configuration for a Watcher
type Config struct {
	Interface    string
	Window       time.Duration
	PollInterval time.Duration
	Ports        []ports.Descriptor
	Logger       *slog.Logger

	// Clock, Open and LookupInterface are overridden in tests.
	Clock           clock.PassiveClock
	Open            OpenFunc
	LookupInterface func(name string) (*net.Interface, error)
}

// Watcher owns a capture source bound to one interface, the set of watched
// ports and the set of ports already reported in the current window.
type Watcher struct {
	iface  string
	window time.Duration
	poll   time.Duration
	logger *slog.Logger
	clock  clock.PassiveClock
	open   OpenFunc

	mu    sync.Mutex
	watch ports.Pair

	running atomic.Bool
	stats   counters

	// Owned by the Run goroutine.
	reported     ports.Pair
	lastRollover time.Time
	decoder      *decode.Decoder
}

// New resolves cfg.Interface and returns an idle Watcher. The capture
// socket is not opened until Run.
func New(cfg Config) (*Watcher, error) {
	if cfg.Interface == "" {
		return nil, &SetupError{Op: "resolve", Err: errors.New("interface name is empty")}
	}
	if cfg.Window < 0 {
		return nil, fmt.Errorf("invalid aggregation window %v: must be positive", cfg.Window)
	}
	if cfg.PollInterval < 0 {
		return nil, fmt.Errorf("invalid poll interval %v: must be positive", cfg.PollInterval)
	}

	lookup := cfg.LookupInterface
	if lookup == nil {
		lookup = net.InterfaceByName
	}
	if _, err := lookup(cfg.Interface); err != nil {
		return nil, &SetupError{Interface: cfg.Interface, Op: "resolve", Err: err}
	}

	w := &Watcher{
		iface:   cfg.Interface,
		window:  cfg.Window,
		poll:    cfg.PollInterval,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		open:    cfg.Open,
		decoder: decode.NewDecoder(),
	}
	if w.window == 0 {
		w.window = DefaultWindow
	}
	if w.poll == 0 {
		w.poll = capture.DefaultPollTimeout
	}
	if w.poll > w.window {
		w.poll = w.window
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.clock == nil {
		w.clock = clock.RealClock{}
	}
	if w.open == nil {
		w.open = capture.Open
	}
	for _, d := range cfg.Ports {
		w.watch.Add(d)
	}

	return w, nil
}

// Interface returns the interface name the watcher captures on.
func (w *Watcher) Interface() string {
	return w.iface
}

// Window returns the aggregation window.
func (w *Watcher) Window() time.Duration {
	return w.window
}

// Watch adds d to the watched set. Safe to call while Run is active.
func (w *Watcher) Watch(d ports.Descriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watch.Add(d)
}

// Unwatch removes d from the watched set. A report already made for d in
// the current window stays in effect until the next rollover.
func (w *Watcher) Unwatch(d ports.Descriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watch.Remove(d)
}

// IsWatched reports whether d is in the watched set.
func (w *Watcher) IsWatched(d ports.Descriptor) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watch.Has(d)
}

// Watched lists the watched descriptors, TCP first, ports ascending.
func (w *Watcher) Watched() []ports.Descriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watch.Descriptors()
}

// Running reports whether Run is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Run opens the capture source and processes frames until ctx is done.
// It returns a *SetupError if capture cannot start and nil on cancellation.
// Read errors after startup are logged and never end the loop.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("watcher: nil handler")
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer w.running.Store(false)

	src, err := w.open(capture.Options{Interface: w.iface, PollTimeout: w.poll})
	if err != nil {
		return &SetupError{Interface: w.iface, Op: "open", Err: err}
	}
	defer src.Close()

	w.logger.Info("Watching interface",
		"interface", w.iface,
		"window", w.window,
		"ports", ports.Join(w.Watched()))

	w.reported.Reset()
	w.lastRollover = w.clock.Now()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Watcher stopped", "interface", w.iface)
			return nil
		default:
		}

		frame, _, err := src.ReadPacketData()
		w.maybeRollover(src)

		switch {
		case err == nil:
			w.handleFrame(frame, handler)
		case errors.Is(err, capture.ErrTimeout):
			// Nothing arrived within the poll interval.
		default:
			w.stats.readErrors.Add(1)
			w.logger.Warn("Capture read failed", "interface", w.iface, "error", err)
			w.backoff(ctx)
		}
	}
}

// handleFrame reports the frame's destination port if it is watched and has
// not been reported in the current window.
func (w *Watcher) handleFrame(frame []byte, handler Handler) {
	w.stats.frames.Add(1)

	d, ok := w.decoder.Decode(frame)
	if !ok {
		return
	}
	w.stats.decoded.Add(1)

	if !w.IsWatched(d) {
		return
	}
	if w.reported.Has(d) {
		w.stats.suppressed.Add(1)
		return
	}

	w.reported.Add(d)
	w.stats.events.Add(1)
	w.logger.Debug("Port became active", "interface", w.iface, "port", d.String())
	handler(d)
}

// maybeRollover clears the reported set once the window has elapsed. This is
// the only place reported is cleared.
func (w *Watcher) maybeRollover(src capture.Source) {
	now := w.clock.Now()
	if now.Sub(w.lastRollover) < w.window {
		return
	}

	if n := w.reported.Count(); n > 0 {
		w.logger.Debug("Aggregation window rolled over", "interface", w.iface, "reported", n)
	}
	w.reported.Reset()
	w.lastRollover = now
	w.stats.rollovers.Add(1)

	if s, ok := src.(capture.StatsSource); ok {
		received, dropped := s.Stats()
		w.stats.kernelReceived.Store(received)
		w.stats.kernelDropped.Store(dropped)
	}
}

// backoff pauses for one poll interval after a read error so a persistently
// failing socket does not spin.
func (w *Watcher) backoff(ctx context.Context) {
	t := time.NewTimer(w.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
