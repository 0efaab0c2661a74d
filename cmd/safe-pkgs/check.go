package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saferun/safe-pkgs/internal/core"
)

var checkRegistry string

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <name> [<version>]",
		Short: "Evaluate one package",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(os.Stderr)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fatal init failure:", err)
				os.Exit(2)
			}
			defer e.closer()

			ref := core.PackageRef{Registry: checkRegistry, Name: args[0]}
			if len(args) == 2 {
				ref.Version = args[1]
			}

			decision, err := e.orch.Evaluate(context.Background(), ref, "check", "")
			if err != nil {
				fmt.Fprintln(os.Stderr, "evaluation failed:", err)
				os.Exit(2)
			}

			printDecision(decision)
			if !decision.Allow {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&checkRegistry, "registry", "npm", "Package registry: npm, cargo, pypi")
	return cmd
}

func printDecision(decision core.Decision) {
	data, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshaling decision:", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
