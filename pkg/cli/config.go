package cli

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/phinze/arkade/pkg/config"
	"github.com/phinze/arkade/pkg/podman"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Display daemon configuration",
		Long:  `Displays the effective configuration, including defaults, and where it was looked for.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			iface := cfg.Interface
			if iface == "" {
				iface = "(not set)"
			}
			podmanSocket := cfg.Podman.Socket
			if podmanSocket == "" {
				podmanSocket = podman.DefaultSocketPath() + " (default)"
			}

			fmt.Fprintln(out, "Arkade Configuration:")
			fmt.Fprintf(out, "  Interface: %s\n", iface)
			fmt.Fprintf(out, "  Window: %s\n", cfg.Window)
			fmt.Fprintf(out, "  Poll Interval: %s\n", cfg.PollInterval)
			fmt.Fprintf(out, "  Log Level: %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "  Socket: %s\n", cfg.Socket)
			fmt.Fprintf(out, "  Podman Socket: %s\n", podmanSocket)

			if _, err := os.Stat(cfg.Socket); err == nil {
				fmt.Fprintf(out, "  Socket Status: Active\n")
			} else if os.IsNotExist(err) {
				fmt.Fprintf(out, "  Socket Status: Not found (daemon may not be running)\n")
			}

			if len(cfg.Containers) > 0 {
				fmt.Fprintf(out, "\nContainers:\n")
				for _, c := range cfg.Containers {
					idle := c.IdleTimeout
					if idle == "" {
						idle = "never"
					}
					fmt.Fprintf(out, "  %s: ports %s, idle stop %s", c.Name, c.Ports, idle)
					if c.Image != "" {
						fmt.Fprintf(out, ", image %s", c.Image)
					}
					fmt.Fprintln(out)
				}
			}

			fmt.Fprintf(out, "\nConfig Search Paths:\n")
			paths := []string{}
			if configPath != "" {
				paths = append(paths, configPath)
			} else if p, err := config.DefaultPath(); err == nil {
				paths = append(paths, p)
			}
			for _, path := range paths {
				expanded, _ := homedir.Expand(path)
				if _, err := os.Stat(expanded); err == nil {
					fmt.Fprintf(out, "  %s (found)\n", path)
				} else {
					fmt.Fprintf(out, "  %s\n", path)
				}
			}

			return nil
		},
	}
}
