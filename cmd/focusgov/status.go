package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/1broseidon/focusgov/internal/ipc"
	"github.com/1broseidon/focusgov/internal/runtimepath"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			status, err := client.GetStatus()
			if err != nil {
				return err
			}
			if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			writeStatus(cmd.OutOrStdout(), status, time.Now())
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output JSON")
	return cmd
}

func newRescanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan",
		Short: "Ask the daemon to walk the window tree now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(cmd)
			if err != nil {
				return err
			}
			data, err := client.Rescan()
			if err != nil {
				return err
			}
			if data.Queued {
				fmt.Fprintln(cmd.OutOrStdout(), "rescan queued")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "rescan already pending")
			}
			return nil
		},
	}
}

func writeStatus(w io.Writer, s *ipc.StatusData, now time.Time) {
	fmt.Fprintf(w, "pid:       %d\n", s.PID)
	fmt.Fprintf(w, "source:    %s\n", s.Source)
	fmt.Fprintf(w, "backend:   %s\n", s.Backend)
	fmt.Fprintf(w, "state:     %s\n", s.State)
	fmt.Fprintf(w, "triggers:  %s\n", strings.Join(s.Triggers, ", "))
	fmt.Fprintf(w, "started:   %s\n", humanize.RelTime(s.StartedAt, now, "ago", "from now"))
	fmt.Fprintf(w, "events:    %s\n", humanize.Comma(int64(s.Events)))
	fmt.Fprintf(w, "cycles:    %s\n", humanize.Comma(int64(s.Cycles)))

	c := s.LastCycle
	if c == nil {
		fmt.Fprintln(w, "last cycle: none")
		return
	}
	fmt.Fprintf(w, "last cycle: %s (%s, %s, took %s)\n",
		c.ID, c.Trigger, humanize.RelTime(c.StartedAt, now, "ago", "from now"), c.Duration.Round(time.Microsecond))
	fmt.Fprintf(w, "  visited %d, controllable %d, written %d, unchanged %d, skipped %d, failed %d\n",
		c.Visited, c.Controllable, c.Written, c.Unchanged, c.Skipped, c.Failed)
	if c.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", c.Error)
	}
}

func socketPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("socket"); p != "" {
		return p, nil
	}
	return runtimepath.SocketPath()
}

func newClient(cmd *cobra.Command) (*ipc.Client, error) {
	path, err := socketPath(cmd)
	if err != nil {
		return nil, err
	}
	return ipc.NewClientAt(path), nil
}
