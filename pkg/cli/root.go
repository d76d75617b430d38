package cli

import (
	"github.com/phinze/arkade/version"
	"github.com/spf13/cobra"
)

var (
	socketPath string
	configPath string
	verbose    bool
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arkade",
		Short: "arkade - start containers when traffic arrives on their ports",
		Long: `arkade watches raw traffic on a network interface and reports, at most once
per aggregation window, each watched TCP or UDP port that received a packet.
The daemon uses those reports to start podman containers on demand and to stop
them again when they go idle.`,
		Version:      version.GetFullVersion(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "", "Path to arkade control socket")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: ~/.config/arkade/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPortsCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newParseCmd())

	return rootCmd
}
