package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/saferun/safe-pkgs/internal/checks"
)

func newSupportMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support-map",
		Short: "Print the registry x check support matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(os.Stderr)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fatal init failure:", err)
				os.Exit(2)
			}
			defer e.closer()

			rows := e.cat.SupportMatrix(checks.IDs())

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REGISTRY\tCHECK\tSUPPORTED")
			for _, row := range rows {
				fmt.Fprintf(w, "%s\t%s\t%v\n", row.Registry, row.CheckID, row.Supported)
			}
			return w.Flush()
		},
	}
}
