package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saferun/safe-pkgs/internal/mcpserver"
)

var serveMCP bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !serveMCP {
				return fmt.Errorf("serve requires --mcp")
			}
			e, err := buildEnv(os.Stderr)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fatal init failure:", err)
				os.Exit(2)
			}
			defer e.closer()

			server := &mcpserver.Server{
				Orchestrator: e.orch,
				Catalog:      e.cat,
				Log:          e.log,
				Reader:       os.Stdin,
				Writer:       os.Stdout,
			}
			if err := server.Serve(context.Background()); err != nil {
				fmt.Fprintln(os.Stderr, "tool server exited:", err)
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serveMCP, "mcp", false, "Serve the line-delimited JSON tool protocol over stdio")
	return cmd
}
