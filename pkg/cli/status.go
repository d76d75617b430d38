package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phinze/arkade/pkg/protocol"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get daemon status",
		Long:  `Retrieves capture counters and container state from the arkade daemon.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := protocol.Request{
				ID:   uuid.New().String(),
				Type: protocol.CommandStatus,
			}

			resp, err := sendRequest(&req)
			if err != nil {
				return err
			}

			if !resp.Success {
				return fmt.Errorf("failed to get status: %s", resp.Error)
			}

			var status protocol.StatusResponse
			if err := json.Unmarshal(resp.Data, &status); err != nil {
				return fmt.Errorf("failed to parse status: %w", err)
			}

			printStatus(cmd.OutOrStdout(), &status)
			return nil
		},
	}
}

func printStatus(out io.Writer, status *protocol.StatusResponse) {
	state := "capturing"
	if !status.Running {
		state = "stopped"
	}

	fmt.Fprintf(out, "Daemon Status:\n")
	fmt.Fprintf(out, "  Version: %s\n", status.Version)
	fmt.Fprintf(out, "  Uptime: %s\n", status.Uptime)
	fmt.Fprintf(out, "  Interface: %s (%s)\n", status.Interface, state)
	fmt.Fprintf(out, "  Window: %s\n", status.Window)
	fmt.Fprintf(out, "  Watched Ports: %d\n", status.Watched)
	if status.Podman != nil {
		fmt.Fprintf(out, "  Podman: %s (api %s)\n", status.Podman.Socket, status.Podman.APIPrefix)
	}

	s := status.Stats
	fmt.Fprintf(out, "\nCapture:\n")
	fmt.Fprintf(out, "  Frames: %d (decoded %d)\n", s.Frames, s.Decoded)
	fmt.Fprintf(out, "  Events: %d (suppressed %d)\n", s.Events, s.Suppressed)
	fmt.Fprintf(out, "  Rollovers: %d\n", s.Rollovers)
	if s.ReadErrors > 0 {
		fmt.Fprintf(out, "  Read Errors: %d\n", s.ReadErrors)
	}
	if s.KernelReceived > 0 || s.KernelDropped > 0 {
		fmt.Fprintf(out, "  Kernel: received %d, dropped %d\n", s.KernelReceived, s.KernelDropped)
	}

	if len(status.Containers) == 0 {
		return
	}

	fmt.Fprintf(out, "\nContainers:\n")
	for _, c := range status.Containers {
		mark := "\033[90m○\033[0m"
		if c.Running {
			mark = "\033[32m●\033[0m"
		}
		fmt.Fprintf(out, "  %s %s [%s]", mark, c.Name, strings.Join(c.Ports, ","))
		if !c.LastSeen.IsZero() {
			fmt.Fprintf(out, " last active %s ago", time.Since(c.LastSeen).Round(time.Second))
		}
		fmt.Fprintf(out, " (starts %d, stops %d)\n", c.Starts, c.Stops)
		if c.LastError != "" {
			fmt.Fprintf(out, "      last error: %s\n", c.LastError)
		}
	}
	if status.DroppedActivations > 0 {
		fmt.Fprintf(out, "  Dropped Activations: %d\n", status.DroppedActivations)
	}
}
