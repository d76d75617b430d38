package cli

import (
	"fmt"

	"github.com/phinze/arkade/internal/logger"
	"github.com/phinze/arkade/pkg/daemon"
	"github.com/phinze/arkade/version"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		systemdMode bool
		logLevel    string
		pidFile     string
		iface       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the arkade daemon",
		Long: `Run the arkade daemon in the foreground. This is typically called by systemd:

  systemctl start arkade      # Start daemon
  systemctl status arkade     # Check status
  journalctl -u arkade        # View logs

Capturing raw frames needs CAP_NET_RAW.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if pidFile != "" {
				cfg.PIDFile = pidFile
			}
			if iface != "" {
				cfg.Interface = iface
			}
			if socketPath != "" {
				cfg.Socket = socketPath
			}
			// Flags may have introduced unexpanded paths or a bad level.
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			log := logger.Configure(cfg.LogLevel)
			log.Info("Starting arkade daemon",
				"version", version.GetVersion(),
				"commit", version.Commit,
				"date", version.Date)

			d := daemon.New(cfg, log)
			d.SetSystemdMode(systemdMode)
			if err := d.Run(); err != nil {
				return fmt.Errorf("daemon failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&systemdMode, "systemd", false, "Run in systemd mode with sd_notify support")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
	cmd.Flags().StringVarP(&iface, "interface", "i", "", "Network interface to capture on (overrides config)")

	return cmd
}
