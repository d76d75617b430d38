// Package lifecycle starts containers when traffic arrives on their ports
// and stops them again once they have been idle long enough.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phinze/arkade/pkg/ports"
	"k8s.io/utils/clock"
)

const (
	// DefaultQueueSize bounds pending activations between the capture loop
	// and the worker.
	DefaultQueueSize = 64
	// DefaultReapInterval is how often idle containers are checked.
	DefaultReapInterval = 10 * time.Second

	shutdownTimeout = 30 * time.Second
)

// Runtime is the subset of the container engine the manager drives.
// *podman.Client satisfies it.
type Runtime interface {
	ContainerExists(ctx context.Context, name string) (bool, error)
	CreateContainer(ctx context.Context, name, image string) (string, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	DeleteContainer(ctx context.Context, name string, force bool) error
	ContainerRunning(ctx context.Context, name string) (bool, error)
}

// Binding ties a container to the ports whose activity should start it.
type Binding struct {
	Container string
	// Image is used to create the container when it does not exist. Empty
	// means the container must already exist.
	Image string
	Ports []ports.Descriptor
	// IdleTimeout stops the container after this long without activity.
	// Zero leaves it running.
	IdleTimeout time.Duration
}

// Config holds configuration for a Manager
type Config struct {
	Runtime        Runtime
	Bindings       []Binding
	QueueSize      int
	ReapInterval   time.Duration
	StopOnShutdown bool
	Logger         *slog.Logger
	Clock          clock.WithTicker
}

// ContainerStatus is a point-in-time view of one managed container.
type ContainerStatus struct {
	Name        string        `json:"name"`
	Image       string        `json:"image,omitempty"`
	Ports       []string      `json:"ports"`
	Running     bool          `json:"running"`
	IdleTimeout time.Duration `json:"idle_timeout"`
	LastSeen    time.Time     `json:"last_seen,omitempty"`
	Starts      int           `json:"starts"`
	Stops       int           `json:"stops"`
	LastError   string        `json:"last_error,omitempty"`
}

type container struct {
	binding Binding

	// guarded by Manager.mu
	running  bool
	lastSeen time.Time
	starts   int
	stops    int
	lastErr  error
}

type activation struct {
	id   string
	port ports.Descriptor
	at   time.Time
}

// Manager consumes port activity and drives container state.
type Manager struct {
	runtime        Runtime
	logger         *slog.Logger
	clock          clock.WithTicker
	reapInterval   time.Duration
	stopOnShutdown bool

	// containers and byPort are fixed after NewManager.
	containers []*container
	byPort     map[ports.Descriptor]*container

	queue   chan activation
	dropped atomic.Uint64

	mu sync.RWMutex
}

// NewManager validates the bindings and returns an idle manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("lifecycle: runtime is required")
	}

	m := &Manager{
		runtime:        cfg.Runtime,
		logger:         cfg.Logger,
		clock:          cfg.Clock,
		reapInterval:   cfg.ReapInterval,
		stopOnShutdown: cfg.StopOnShutdown,
		byPort:         make(map[ports.Descriptor]*container),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = clock.RealClock{}
	}
	if m.reapInterval <= 0 {
		m.reapInterval = DefaultReapInterval
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	m.queue = make(chan activation, size)

	names := make(map[string]bool, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.Container == "" {
			return nil, errors.New("lifecycle: binding has no container name")
		}
		if names[b.Container] {
			return nil, fmt.Errorf("lifecycle: container %s bound twice", b.Container)
		}
		names[b.Container] = true
		if b.IdleTimeout < 0 {
			return nil, fmt.Errorf("lifecycle: container %s: negative idle timeout", b.Container)
		}

		c := &container{binding: b}
		for _, d := range b.Ports {
			if other, ok := m.byPort[d]; ok {
				return nil, fmt.Errorf("lifecycle: port %s bound to both %s and %s",
					d, other.binding.Container, b.Container)
			}
			m.byPort[d] = c
		}
		m.containers = append(m.containers, c)
	}

	return m, nil
}

// Ports returns every bound port, TCP first, ports ascending.
func (m *Manager) Ports() []ports.Descriptor {
	var all ports.Pair
	for d := range m.byPort {
		all.Add(d)
	}
	return all.Descriptors()
}

// ContainerFor returns the container bound to d.
func (m *Manager) ContainerFor(d ports.Descriptor) (string, bool) {
	c, ok := m.byPort[d]
	if !ok {
		return "", false
	}
	return c.binding.Container, true
}

// HandleActivity is the watcher callback. It never blocks: when the queue
// is full the activation is dropped. The next window reports the port
// again, so nothing is lost for long.
func (m *Manager) HandleActivity(d ports.Descriptor) {
	c, ok := m.byPort[d]
	if !ok {
		m.logger.Debug("Activity on unbound port", "port", d.String())
		return
	}

	a := activation{id: uuid.New().String(), port: d, at: m.clock.Now()}
	select {
	case m.queue <- a:
	default:
		m.dropped.Add(1)
		m.logger.Warn("Activation queue full, dropping",
			"port", d.String(),
			"container", c.binding.Container)
	}
}

// Dropped returns the number of activations dropped on a full queue.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Start syncs container state from the runtime, then processes activations
// and reaps idle containers until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("Starting lifecycle manager",
		"containers", len(m.containers),
		"ports", ports.Join(m.Ports()),
		"reapInterval", m.reapInterval)

	m.sync(ctx)

	ticker := m.clock.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case a := <-m.queue:
			m.handleActivation(ctx, a)
		case <-ticker.C():
			m.sync(ctx)
			m.reapIdle(ctx)
		}
	}
}

// sync refreshes the running flag of every container from the runtime.
// A container started behind our back gets a full idle timeout from now.
func (m *Manager) sync(ctx context.Context) {
	for _, c := range m.containers {
		running, err := m.runtime.ContainerRunning(ctx, c.binding.Container)
		if err != nil {
			m.logger.Warn("Failed to inspect container",
				"container", c.binding.Container,
				"error", err)
			continue
		}

		m.mu.Lock()
		if running && !c.running {
			c.lastSeen = m.clock.Now()
		}
		if c.running != running {
			m.logger.Debug("Container state changed outside arkade",
				"container", c.binding.Container,
				"running", running)
		}
		c.running = running
		m.mu.Unlock()
	}
}

// handleActivation records activity and starts the container if needed.
func (m *Manager) handleActivation(ctx context.Context, a activation) {
	c := m.byPort[a.port]
	name := c.binding.Container

	m.mu.Lock()
	if a.at.After(c.lastSeen) {
		c.lastSeen = a.at
	}
	running := c.running
	m.mu.Unlock()

	if running {
		return
	}

	m.logger.Info("Activating container",
		"container", name,
		"port", a.port.String(),
		"activation", a.id)

	err := m.activate(ctx, c)

	m.mu.Lock()
	defer m.mu.Unlock()
	c.lastErr = err
	if err != nil {
		m.logger.Error("Failed to activate container",
			"container", name,
			"activation", a.id,
			"error", err)
		return
	}
	c.running = true
	c.starts++
	m.logger.Info("Container started", "container", name, "activation", a.id)
}

func (m *Manager) activate(ctx context.Context, c *container) error {
	name := c.binding.Container

	created := false
	if c.binding.Image != "" {
		exists, err := m.runtime.ContainerExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			id, err := m.runtime.CreateContainer(ctx, name, c.binding.Image)
			if err != nil {
				return err
			}
			created = true
			m.logger.Info("Container created",
				"container", name,
				"image", c.binding.Image,
				"id", id)
		}
	}

	err := m.runtime.StartContainer(ctx, name)
	if err != nil && created {
		// Remove what we just created so the next activity starts from the image.
		if derr := m.runtime.DeleteContainer(ctx, name, true); derr != nil {
			m.logger.Warn("Failed to remove container after failed start",
				"container", name,
				"error", derr)
		}
	}
	return err
}

// reapIdle stops running containers whose idle timeout has elapsed.
func (m *Manager) reapIdle(ctx context.Context) {
	now := m.clock.Now()

	for _, c := range m.containers {
		idle := c.binding.IdleTimeout
		if idle == 0 {
			continue
		}

		m.mu.RLock()
		expired := c.running && now.Sub(c.lastSeen) >= idle
		lastSeen := c.lastSeen
		m.mu.RUnlock()

		if !expired {
			continue
		}

		m.logger.Info("Stopping idle container",
			"container", c.binding.Container,
			"idle", now.Sub(lastSeen).Round(time.Second))
		m.stop(ctx, c)
	}
}

func (m *Manager) stop(ctx context.Context, c *container) {
	err := m.runtime.StopContainer(ctx, c.binding.Container)

	m.mu.Lock()
	defer m.mu.Unlock()
	c.lastErr = err
	if err != nil {
		m.logger.Error("Failed to stop container",
			"container", c.binding.Container,
			"error", err)
		return
	}
	c.running = false
	c.stops++
}

// shutdown stops running containers when configured to.
func (m *Manager) shutdown() error {
	m.logger.Info("Stopping lifecycle manager")

	if !m.stopOnShutdown {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	for _, c := range m.containers {
		m.mu.RLock()
		running := c.running
		m.mu.RUnlock()
		if !running {
			continue
		}
		m.stop(ctx, c)

		m.mu.RLock()
		if c.lastErr != nil {
			errs = append(errs, c.lastErr)
		}
		m.mu.RUnlock()
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of every managed container in binding order.
func (m *Manager) Status() []ContainerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ContainerStatus, 0, len(m.containers))
	for _, c := range m.containers {
		s := ContainerStatus{
			Name:        c.binding.Container,
			Image:       c.binding.Image,
			Ports:       make([]string, 0, len(c.binding.Ports)),
			Running:     c.running,
			IdleTimeout: c.binding.IdleTimeout,
			LastSeen:    c.lastSeen,
			Starts:      c.starts,
			Stops:       c.stops,
		}
		for _, d := range c.binding.Ports {
			s.Ports = append(s.Ports, d.String())
		}
		if c.lastErr != nil {
			s.LastError = c.lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}
