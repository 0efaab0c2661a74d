package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/lockfile"
)

var auditRegistry string

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit <path>",
		Short: "Expand a dependency file and evaluate every package it names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEnv(os.Stderr)
			if err != nil {
				fmt.Fprintln(os.Stderr, "fatal init failure:", err)
				os.Exit(2)
			}
			defer e.closer()

			provider, ok := e.cat.Lookup(auditRegistry)
			if !ok {
				printDecisions([]core.Decision{lockfileErrorDecision(core.UnsupportedError("unknown registry "+auditRegistry, nil))})
				os.Exit(1)
			}

			refs, err := lockfile.Expand(provider, args[0])
			if err != nil {
				// spec.md §7: a Lockfile/Unsupported failure aborts the
				// expansion with a single denying decision, not a process exit.
				printDecisions([]core.Decision{lockfileErrorDecision(err)})
				os.Exit(1)
			}

			results := e.orch.ExpandLockfile(context.Background(), refs, "audit")
			decisions := make([]core.Decision, len(results))
			allAllow := true
			for i, r := range results {
				if r.Err != nil {
					decisions[i] = lockfileErrorDecision(r.Err)
				} else {
					decisions[i] = r.Value
				}
				allAllow = allAllow && decisions[i].Allow
			}

			printDecisions(decisions)
			if !allAllow {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&auditRegistry, "registry", "npm", "Package registry: npm, cargo, pypi")
	return cmd
}

// lockfileErrorDecision converts a core.LockfileError/core.UnsupportedError
// from locating or parsing a dependency file into the single fail-closed
// decision spec.md §7 requires for that failure, instead of a process exit.
func lockfileErrorDecision(err error) core.Decision {
	return core.Decision{Allow: false, Risk: core.SeverityCritical, Reasons: []string{err.Error()}}
}

func printDecisions(decisions []core.Decision) {
	data, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshaling decisions:", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
