package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/phinze/arkade/pkg/config"
	"github.com/phinze/arkade/pkg/lifecycle"
	"github.com/phinze/arkade/pkg/podman"
	"github.com/phinze/arkade/pkg/ports"
	"github.com/phinze/arkade/pkg/protocol"
	"github.com/phinze/arkade/pkg/watcher"
	"github.com/phinze/arkade/version"
)

var _ lifecycle.Runtime = (*podman.Client)(nil)

// Daemon represents the arkade daemon
type Daemon struct {
	config      *config.Config
	listener    net.Listener
	logger      *slog.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	startTime   time.Time
	systemdMode bool
	activated   bool
	pidFile     string

	watcher *watcher.Watcher
	// nil when no containers are configured
	manager *lifecycle.Manager
	podman  *protocol.PodmanStatus

	// Overridden in tests.
	openCapture     watcher.OpenFunc
	lookupInterface func(name string) (*net.Interface, error)
	runtime         lifecycle.Runtime
}

// New creates a new daemon instance. cfg must already be validated.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:    cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		pidFile:   cfg.PIDFile,
	}
}

// SetSystemdMode enables sd_notify and watchdog support.
func (d *Daemon) SetSystemdMode(enabled bool) {
	d.systemdMode = enabled
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	d.cancel()
}

// setup builds the watcher and, when containers are configured, the podman
// client and lifecycle manager.
func (d *Daemon) setup(ctx context.Context) error {
	w, err := watcher.New(watcher.Config{
		Interface:       d.config.Interface,
		Window:          d.config.WindowDuration(),
		PollInterval:    d.config.PollDuration(),
		Logger:          d.logger,
		Open:            d.openCapture,
		LookupInterface: d.lookupInterface,
	})
	if err != nil {
		return err
	}
	d.watcher = w

	if len(d.config.Containers) == 0 {
		d.logger.Warn("No containers configured, activity will only be logged")
		return nil
	}

	runtime := d.runtime
	if runtime == nil {
		client, err := podman.New(ctx, d.config.Podman.Socket, d.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to podman: %w", err)
		}
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("podman at %s is not answering: %w", client.SocketPath(), err)
		}
		d.logger.Info("Connected to podman",
			"socket", client.SocketPath(),
			"api", client.APIPrefix())
		d.podman = &protocol.PodmanStatus{Socket: client.SocketPath(), APIPrefix: client.APIPrefix()}
		runtime = client
	}

	m, err := lifecycle.NewManager(lifecycle.Config{
		Runtime:        runtime,
		Bindings:       d.config.Bindings(),
		StopOnShutdown: d.config.StopOnShutdown,
		Logger:         d.logger,
	})
	if err != nil {
		return err
	}
	d.manager = m

	for _, p := range m.Ports() {
		w.Watch(p)
	}
	return nil
}

// Run starts the daemon and blocks until a signal, Stop, or a capture
// failure.
func (d *Daemon) Run() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := d.writePIDFile(); err != nil {
		return err
	}
	defer d.removePIDFile()

	if err := d.setup(d.ctx); err != nil {
		d.cancel()
		return err
	}

	listener, err := d.listen()
	if err != nil {
		d.cancel()
		return err
	}
	d.listener = listener

	d.logger.Info("Daemon started",
		"socket", d.config.Socket,
		"interface", d.watcher.Interface(),
		"version", version.GetVersion())

	d.wg.Add(1)
	go d.acceptConnections()

	watchErr := make(chan error, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		watchErr <- d.watcher.Run(d.ctx, d.handleActivity)
	}()

	if d.manager != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.manager.Start(d.ctx); err != nil {
				d.logger.Error("Lifecycle manager error", "error", err)
			}
		}()
	}

	d.notifySystemd("READY=1")
	go d.watchdogLoop()

	var runErr error
	select {
	case sig := <-sigChan:
		d.logger.Info("Received signal", "signal", sig)
	case <-d.ctx.Done():
		d.logger.Info("Context cancelled")
	case err := <-watchErr:
		if err != nil {
			d.logger.Error("Watcher failed", "error", err)
			runErr = err
		}
	}

	d.notifySystemd("STOPPING=1")
	if err := d.shutdown(); err != nil {
		return err
	}
	return runErr
}

// listen opens the control socket with owner-only permissions, or adopts
// the socket systemd passed in.
func (d *Daemon) listen() (net.Listener, error) {
	if l, ok := d.activationListener(); ok {
		d.activated = true
		return l, nil
	}

	oldUmask := syscall.Umask(0077)
	defer syscall.Umask(oldUmask)

	if err := os.RemoveAll(d.config.Socket); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.config.Socket), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", d.config.Socket)
	if err != nil {
		return nil, fmt.Errorf("failed to start listener: %w", err)
	}
	return listener, nil
}

// handleActivity runs on the capture goroutine and must not block.
func (d *Daemon) handleActivity(p ports.Descriptor) {
	d.logger.Info("Port became active", "port", p.String())
	if d.manager != nil {
		d.manager.HandleActivity(p)
	}
}

// acceptConnections accepts incoming connections
func (d *Daemon) acceptConnections() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single connection
func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(protocol.DefaultTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		if err != io.EOF {
			d.logger.Error("Failed to read from connection", "error", err)
		}
		return
	}

	req, err := protocol.ParseRequest([]byte(line))
	if err != nil {
		d.logger.Error("Failed to parse request", "error", err)
		d.sendResponse(conn, protocol.NewErrorResponse("", fmt.Errorf("invalid request format")))
		return
	}

	d.logger.Debug("Received command", "type", req.Type, "id", req.ID)

	d.sendResponse(conn, d.handleCommand(req))
}

// handleCommand processes a command and returns a response
func (d *Daemon) handleCommand(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.CommandStatus:
		return d.handleStatusCommand(req)
	case protocol.CommandList:
		return d.handleListCommand(req)
	case protocol.CommandWatch:
		return d.handleWatchCommand(req)
	case protocol.CommandUnwatch:
		return d.handleUnwatchCommand(req)
	default:
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("unknown command type: %s", req.Type))
	}
}

func (d *Daemon) handleStatusCommand(req *protocol.Request) *protocol.Response {
	status := protocol.StatusResponse{
		Version:   version.GetVersion(),
		Uptime:    time.Since(d.startTime).Round(time.Second).String(),
		Interface: d.watcher.Interface(),
		Window:    d.watcher.Window().String(),
		Running:   d.watcher.Running(),
		Watched:   len(d.watcher.Watched()),
		Stats:     d.watcher.Stats(),
	}
	if d.manager != nil {
		status.Containers = d.manager.Status()
		status.DroppedActivations = d.manager.Dropped()
	}
	status.Podman = d.podman

	resp, err := protocol.NewSuccessResponse(req.ID, status)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

func (d *Daemon) handleListCommand(req *protocol.Request) *protocol.Response {
	watched := d.watcher.Watched()
	list := protocol.ListResponse{Ports: make([]string, 0, len(watched))}
	for _, p := range watched {
		list.Ports = append(list.Ports, p.String())
	}

	resp, err := protocol.NewSuccessResponse(req.ID, list)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

func (d *Daemon) handleWatchCommand(req *protocol.Request) *protocol.Response {
	ds, err := parsePortsPayload(req)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}

	for _, p := range ds {
		d.watcher.Watch(p)
	}
	d.logger.Info("Watching ports", "ports", ports.Join(ds))

	return d.handleListCommand(req)
}

func (d *Daemon) handleUnwatchCommand(req *protocol.Request) *protocol.Response {
	ds, err := parsePortsPayload(req)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}

	// Check every port first so a rejected request changes nothing.
	if d.manager != nil {
		for _, p := range ds {
			if name, ok := d.manager.ContainerFor(p); ok {
				return protocol.NewErrorResponse(req.ID,
					fmt.Errorf("port %s is bound to container %s", p, name))
			}
		}
	}

	for _, p := range ds {
		d.watcher.Unwatch(p)
	}
	d.logger.Info("Stopped watching ports", "ports", ports.Join(ds))

	return d.handleListCommand(req)
}

func parsePortsPayload(req *protocol.Request) ([]ports.Descriptor, error) {
	var payload protocol.PortsRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return payload.Descriptors()
}

// sendResponse sends a response to the client
func (d *Daemon) sendResponse(conn net.Conn, resp *protocol.Response) {
	data, err := protocol.MarshalResponse(resp)
	if err != nil {
		d.logger.Error("Failed to marshal response", "error", err)
		return
	}

	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		d.logger.Error("Failed to send response", "error", err)
	}
}

// shutdown gracefully shuts down the daemon
func (d *Daemon) shutdown() error {
	d.logger.Info("Shutting down daemon")

	d.cancel()

	if d.listener != nil {
		if err := d.listener.Close(); err != nil {
			d.logger.Error("Failed to close listener", "error", err)
		}
	}

	d.wg.Wait()

	// systemd owns an activated socket
	if !d.activated {
		if err := os.RemoveAll(d.config.Socket); err != nil {
			d.logger.Error("Failed to remove socket file", "error", err)
		}
	}

	d.logger.Info("Daemon stopped")
	return nil
}
