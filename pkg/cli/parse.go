package cli

import (
	"fmt"
	"strings"

	"github.com/phinze/arkade/pkg/ports"
	"github.com/spf13/cobra"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <port-spec>...",
		Short: "Validate a port list",
		Long: `Parses a comma-separated port list such as "25565/tcp, 34197/udp" and prints
the normalized form, one descriptor per line. Arguments are joined with commas.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := ports.Parse(strings.Join(args, ","))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range ds {
				fmt.Fprintln(out, d)
			}
			return nil
		},
	}
}
