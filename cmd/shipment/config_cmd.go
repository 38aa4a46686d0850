package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shipment/internal/config"
	"shipment/internal/logging"
)

var redactedKeys = map[string]bool{
	"verify_key": true,
}

func newConfigCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initializeConfigOnly(cmd); err != nil {
				return err
			}
			return cli.showConfig()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initializeConfigOnly(cmd); err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				defaultPath, err := config.DefaultFilePath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.Save(path, cli.cfg); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "Saved configuration to %s\n", path)
			return nil
		},
	})

	return cmd
}

func (cli *CLI) showConfig() error {
	values, err := config.Values(cli.cfg)
	if err != nil {
		return err
	}

	if file := cli.meta.File(); file != "" {
		fmt.Fprintf(cli.out, "%s %s\n", bold("File:"), file)
	}
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	for _, key := range config.Keys() {
		value := fmt.Sprint(values[key])
		if redactedKeys[key] && value != "" {
			value = logging.Placeholder
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, value, cli.meta.Source(key))
	}
	return tw.Flush()
}
