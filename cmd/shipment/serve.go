package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shipment/internal/fixture"
)

func newServeFixtureCommand(cli *CLI) *cobra.Command {
	var addr string
	var appName string
	var enableCORS bool

	cmd := &cobra.Command{
		Use:   "serve-fixture",
		Short: "Serve demo actions for trying the client locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initializeConfigOnly(cmd); err != nil {
				return err
			}
			server := fixture.NewDefault(fixture.Config{
				AppName:    appName,
				EnableCORS: enableCORS,
				AccessLog:  cli.verbose || cli.debug,
				Debug:      cli.debug,
			})
			fmt.Fprintf(cli.errOut, "Serving fixture app %q on %s\n", appName, addr)
			return server.ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":6565", "Listen address")
	cmd.Flags().StringVar(&appName, "name", "fixture", "App name reported by the manifest")
	cmd.Flags().BoolVar(&enableCORS, "cors", false, "Allow cross-origin requests")
	return cmd
}
