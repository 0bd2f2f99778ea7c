package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexbeletsky/transcribe-talk/config"
)

func newConfigCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with credentials masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				return cfg.Write(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				return c.validate(cfg)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file in use",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				path, err := config.FindConfig(c.configPath)
				if err != nil {
					return err
				}
				if path == "" {
					path = "(none, using defaults)"
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
	)

	return cmd
}

func (c *cli) validate(cfg *config.Config) error {
	p := c.console.p

	err := cfg.Validate()
	if err == nil {
		c.console.printf(p.success, "✓ Configuration is valid\n")
		return nil
	}

	c.console.printf(p.failure, "✗ Configuration errors:\n")
	for _, line := range strings.Split(err.Error(), "\n") {
		c.console.printf(p.failure, "  • %s\n", line)
	}
	return errors.New("invalid configuration")
}
