package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/phinze/arkade/pkg/lifecycle"
	"github.com/phinze/arkade/pkg/ports"
	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	// Interface to capture on, e.g. "eth0"
	Interface string `yaml:"interface"`

	// Window is the aggregation window, e.g. "5s"
	Window string `yaml:"window"`

	// PollInterval bounds a single capture read, e.g. "250ms"
	PollInterval string `yaml:"poll_interval"`

	// LogLevel: debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// Socket is the control socket path (default: ~/.arkade.sock)
	Socket string `yaml:"socket"`

	// PIDFile is written on startup when set
	PIDFile string `yaml:"pid_file,omitempty"`

	// StopOnShutdown stops running containers when the daemon exits
	StopOnShutdown bool `yaml:"stop_on_shutdown,omitempty"`

	Podman PodmanConfig `yaml:"podman,omitempty"`

	Containers []ContainerConfig `yaml:"containers,omitempty"`
}

// PodmanConfig locates the podman service
type PodmanConfig struct {
	// Socket defaults to the rootless socket of the current user
	Socket string `yaml:"socket,omitempty"`
}

// ContainerConfig binds a container to the ports that wake it
type ContainerConfig struct {
	Name        string `yaml:"name"`
	Image       string `yaml:"image,omitempty"`
	Ports       string `yaml:"ports"`
	IdleTimeout string `yaml:"idle_timeout,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Window:       "5s",
		PollInterval: "250ms",
		LogLevel:     "info",
		Socket:       "~/.arkade.sock",
	}
}

// DefaultPath returns ~/.config/arkade/config.yaml
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "arkade", "config.yaml"), nil
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If no path specified, try the default location
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and expands home directories in paths.
// Interface is not required here: `arkade watch` may supply it by flag.
func (c *Config) Validate() error {
	window, err := parseDuration("window", c.Window)
	if err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("invalid window %q: must be positive", c.Window)
	}
	if _, err := parseDuration("poll_interval", c.PollInterval); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	for _, p := range []*string{&c.Socket, &c.PIDFile, &c.Podman.Socket} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %s: %w", *p, err)
		}
		*p = expanded
	}

	seen := make(map[string]bool, len(c.Containers))
	for i, cc := range c.Containers {
		if cc.Name == "" {
			return fmt.Errorf("containers[%d]: name is required", i)
		}
		if seen[cc.Name] {
			return fmt.Errorf("containers[%d]: duplicate name %s", i, cc.Name)
		}
		seen[cc.Name] = true

		ds, err := ports.Parse(cc.Ports)
		if err != nil {
			return fmt.Errorf("container %s: %w", cc.Name, err)
		}
		if len(ds) == 0 {
			return fmt.Errorf("container %s: no ports configured", cc.Name)
		}

		idle, err := parseDuration("idle_timeout", cc.IdleTimeout)
		if err != nil {
			return fmt.Errorf("container %s: %w", cc.Name, err)
		}
		// Shorter than a window would stop a container between two reports
		// of the same busy port.
		if idle > 0 && idle <= window {
			return fmt.Errorf("container %s: idle_timeout %s must be longer than window %s",
				cc.Name, cc.IdleTimeout, c.Window)
		}
	}

	return nil
}

// WindowDuration returns the parsed aggregation window. Call after Validate.
func (c *Config) WindowDuration() time.Duration {
	d, _ := parseDuration("window", c.Window)
	return d
}

// PollDuration returns the parsed poll interval. Call after Validate.
func (c *Config) PollDuration() time.Duration {
	d, _ := parseDuration("poll_interval", c.PollInterval)
	return d
}

// Bindings converts the container section for the lifecycle manager.
// Call after Validate.
func (c *Config) Bindings() []lifecycle.Binding {
	out := make([]lifecycle.Binding, 0, len(c.Containers))
	for _, cc := range c.Containers {
		ds, _ := ports.Parse(cc.Ports)
		idle, _ := parseDuration("idle_timeout", cc.IdleTimeout)
		out = append(out, lifecycle.Binding{
			Container:   cc.Name,
			Image:       cc.Image,
			Ports:       ds,
			IdleTimeout: idle,
		})
	}
	return out
}

// parseDuration treats an empty string as zero.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, s)
	}
	return d, nil
}
