package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phinze/arkade/pkg/ports"
	"github.com/phinze/arkade/pkg/protocol"
	"github.com/spf13/cobra"
)

func newPortsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "Inspect or change the daemon's watched ports",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List watched ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &protocol.Request{ID: uuid.New().String(), Type: protocol.CommandList}
			return runPortsRequest(cmd, req)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <port/proto>[,...] ...",
		Short: "Watch additional ports",
		Long: `Adds ports to the watched set of a running daemon. Activity on ports not bound
to a container is only logged.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendPortsChange(cmd, protocol.CommandWatch, args)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <port/proto>[,...] ...",
		Aliases: []string{"rm"},
		Short:   "Stop watching ports",
		Long:    `Removes ports from the watched set. Ports bound to a container cannot be removed.`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendPortsChange(cmd, protocol.CommandUnwatch, args)
		},
	})

	return cmd
}

// sendPortsChange validates args locally before contacting the daemon.
func sendPortsChange(cmd *cobra.Command, typ protocol.CommandType, args []string) error {
	ds, err := ports.Parse(strings.Join(args, ","))
	if err != nil {
		return err
	}

	req, err := protocol.NewPortsRequest(uuid.New().String(), typ, ds)
	if err != nil {
		return err
	}
	return runPortsRequest(cmd, req)
}

func runPortsRequest(cmd *cobra.Command, req *protocol.Request) error {
	resp, err := sendRequest(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s failed: %s", req.Type, resp.Error)
	}

	var list protocol.ListResponse
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return fmt.Errorf("failed to parse port list: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(list.Ports) == 0 {
		fmt.Fprintln(out, "No watched ports")
		return nil
	}
	fmt.Fprintln(out, "Watched Ports:")
	for _, p := range list.Ports {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}
