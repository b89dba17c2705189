package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/1broseidon/focusgov/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "print",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				res, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				data, err := res.Config.Marshal()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration file for errors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				res, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if res.File == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "no config file, defaults are valid")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", res.File)
				return nil
			},
		},
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.LoadResult, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	return config.LoadFromPath(path)
}
