// Package checks implements the seven independent package-safety checks the
// orchestrator runs per evaluation.
package checks

import (
	"sort"

	"github.com/saferun/safe-pkgs/internal/core"
)

// All returns every check, ordered by priority (ascending) then id
// (lexicographically) for ties, matching the orchestrator's run order.
func All() []core.Check {
	all := []core.Check{
		Existence{},
		VersionAge{},
		Staleness{},
		Typosquat{},
		Popularity{},
		InstallScript{},
		Advisory{},
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority() != all[j].Priority() {
			return all[i].Priority() < all[j].Priority()
		}
		return all[i].ID() < all[j].ID()
	})
	return all
}

// IDs returns every check's id, in the same order as All.
func IDs() []string {
	all := All()
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID()
	}
	return ids
}
