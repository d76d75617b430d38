package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phinze/arkade/internal/logger"
	"github.com/phinze/arkade/pkg/ports"
	"github.com/phinze/arkade/pkg/watcher"
	"github.com/spf13/cobra"
)

// watchOptions are the flags of `arkade watch`.
type watchOptions struct {
	iface  string
	ports  string
	window time.Duration
	poll   time.Duration
	utc    bool
}

func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print port activity without the daemon",
		Long: `Captures on an interface and prints one line each time a watched port sees
traffic, at most once per port per window. No containers are started.

  arkade watch --interface eth0 --ports 25565/tcp,34197/udp --window 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := watcherConfig(cmd, opts)
			if err != nil {
				return err
			}

			w, err := watcher.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return w.Run(ctx, func(d ports.Descriptor) {
				now := time.Now()
				if opts.utc {
					now = now.UTC()
				}
				printEvent(out, now, d)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.iface, "interface", "i", "", "Network interface to capture on")
	cmd.Flags().StringVarP(&opts.ports, "ports", "p", "", "Ports to watch, e.g. 25565/tcp,34197/udp")
	cmd.Flags().DurationVarP(&opts.window, "window", "w", 0, "Aggregation window (default from config, 5s)")
	cmd.Flags().DurationVar(&opts.poll, "poll", 0, "Capture poll interval (default from config)")
	cmd.Flags().BoolVar(&opts.utc, "utc", false, "Print timestamps in UTC")

	return cmd
}

// watcherConfig merges flags over the config file. Watched ports default to
// every port bound to a configured container.
func watcherConfig(cmd *cobra.Command, opts *watchOptions) (watcher.Config, error) {
	fileCfg, err := loadConfig()
	if err != nil {
		return watcher.Config{}, err
	}

	cfg := watcher.Config{
		Interface:    fileCfg.Interface,
		Window:       fileCfg.WindowDuration(),
		PollInterval: fileCfg.PollDuration(),
		Logger:       logger.Configure(fileCfg.LogLevel),
	}
	if opts.iface != "" {
		cfg.Interface = opts.iface
	}
	if cmd.Flags().Changed("window") {
		if opts.window <= 0 {
			return watcher.Config{}, fmt.Errorf("invalid window %v: must be positive", opts.window)
		}
		cfg.Window = opts.window
	}
	if cmd.Flags().Changed("poll") {
		cfg.PollInterval = opts.poll
	}
	if cfg.Interface == "" {
		return watcher.Config{}, errors.New("no interface given (use --interface or set interface in config)")
	}

	if opts.ports != "" {
		cfg.Ports, err = ports.Parse(opts.ports)
		if err != nil {
			return watcher.Config{}, err
		}
	} else {
		for _, b := range fileCfg.Bindings() {
			cfg.Ports = append(cfg.Ports, b.Ports...)
		}
	}
	if len(cfg.Ports) == 0 {
		return watcher.Config{}, errors.New("no ports to watch (use --ports or configure containers)")
	}

	return cfg, nil
}

func printEvent(out io.Writer, at time.Time, d ports.Descriptor) {
	fmt.Fprintf(out, "%s %s active\n", at.Format("2006-01-02T15:04:05.000Z07:00"), d)
}
