package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Existence fails a package that the registry has never heard of, or a
// version it has never published. It always runs first and, on a critical
// finding, short-circuits every other check for the request.
type Existence struct{}

func (Existence) ID() string          { return "existence" }
func (Existence) Description() string { return "package and version exist in the registry" }
func (Existence) Priority() int       { return 0 }
func (Existence) RunsOnMissingPackage() bool { return true }
func (Existence) RunsOnMissingVersion() bool { return true }
func (Existence) NeedsWeeklyDownloads() bool { return false }
func (Existence) NeedsAdvisories() bool      { return false }

func (Existence) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	if !cctx.Metadata.Exists {
		return []core.Finding{{
			CheckID:  "existence",
			Severity: core.SeverityCritical,
			Message:  fmt.Sprintf("package %s not found in %s", cctx.Ref.Name, cctx.Ref.Registry),
		}}, nil
	}

	if cctx.Ref.Version != "" {
		found := false
		for _, known := range cctx.Metadata.KnownVersions {
			if known == cctx.Ref.Version {
				found = true
				break
			}
		}
		if !found {
			return []core.Finding{{
				CheckID:  "existence",
				Severity: core.SeverityCritical,
				Message:  fmt.Sprintf("%s@%s not found in %s", cctx.Ref.Name, cctx.Ref.Version, cctx.Ref.Registry),
			}}, nil
		}
	}

	return nil, nil
}
