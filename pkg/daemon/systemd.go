package daemon

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// listenFDsStart is the first file descriptor passed by socket activation.
const listenFDsStart = 3

// notifySystemd sends notification to systemd if running in systemd mode
func (d *Daemon) notifySystemd(state string) {
	if !d.systemdMode {
		return
	}

	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	// Abstract socket
	if socketPath[0] == '@' {
		socketPath = "\x00" + socketPath[1:]
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		d.logger.Debug("Failed to connect to systemd notify socket", "error", err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(state)); err != nil {
		d.logger.Debug("Failed to send systemd notification", "state", state, "error", err)
	}
}

// watchdogInterval returns half of WATCHDOG_USEC, or zero when the watchdog
// is not enabled for this process.
func watchdogInterval() (time.Duration, error) {
	watchdogUsec := os.Getenv("WATCHDOG_USEC")
	if watchdogUsec == "" {
		return 0, nil
	}
	if pid := os.Getenv("WATCHDOG_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return 0, nil
	}

	usec, err := strconv.ParseInt(watchdogUsec, 10, 64)
	if err != nil || usec <= 0 {
		return 0, fmt.Errorf("invalid WATCHDOG_USEC value %q", watchdogUsec)
	}
	return time.Duration(usec) * time.Microsecond / 2, nil
}

// watchdogLoop sends periodic watchdog notifications to systemd. A stalled
// capture loop stops the pings so systemd restarts the daemon.
func (d *Daemon) watchdogLoop() {
	if !d.systemdMode {
		return
	}

	interval, err := watchdogInterval()
	if err != nil {
		d.logger.Debug("Watchdog disabled", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	d.logger.Debug("Starting watchdog loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.watcher != nil && !d.watcher.Running() {
				d.logger.Warn("Skipping watchdog ping, watcher not running")
				continue
			}
			d.notifySystemd("WATCHDOG=1")
		case <-d.ctx.Done():
			return
		}
	}
}

// writePIDFile writes the current process ID to a file
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Debug("Wrote PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file
func (d *Daemon) removePIDFile() {
	if d.pidFile == "" {
		return
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Failed to remove PID file", "path", d.pidFile, "error", err)
	}
}

// activationListener adopts the first socket passed by systemd socket
// activation, if any.
func (d *Daemon) activationListener() (net.Listener, bool) {
	if !d.systemdMode {
		return nil, false
	}

	if pid := os.Getenv("LISTEN_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return nil, false
	}
	numFDs, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || numFDs < 1 {
		return nil, false
	}

	file := os.NewFile(uintptr(listenFDsStart), "systemd-socket")
	if file == nil {
		return nil, false
	}
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		d.logger.Warn("Failed to create listener from systemd socket", "error", err)
		return nil, false
	}

	d.logger.Info("Using systemd socket activation")
	return listener, true
}
