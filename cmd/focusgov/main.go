package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "focusgov",
		Short:         "Throttle the CPU of windows you cannot see",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (default ~/.config/focusgov/config.yaml)")
	root.PersistentFlags().String("socket", "", "Control socket path (default $XDG_RUNTIME_DIR/focusgov.sock)")

	root.AddCommand(
		newDaemonCommand(),
		newStatusCommand(),
		newRescanCommand(),
		newConfigCommand(),
	)
	return root
}
