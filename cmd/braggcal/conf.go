package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewMkconfCommand writes the effective configuration to the config file
func NewMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the current configuration, defaults included, to the config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := os.Create(configPath)
			if err != nil {
				return errors.Wrap(err, "creating config file")
			}
			defer f.Close()
			return writeConf(f, cfg)
		},
	}
}

// NewConfCommand prints the effective configuration
func NewConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeConf(cmd.OutOrStdout(), cfg)
		},
	}
}

// NewVersionCommand prints the version
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "braggcal version %v\n", Version)
			return nil
		},
	}
}
