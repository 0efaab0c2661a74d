package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Popularity flags a package whose weekly download count sits below the
// configured adoption floor.
type Popularity struct{}

func (Popularity) ID() string                 { return "popularity" }
func (Popularity) Description() string        { return "package has adequate adoption" }
func (Popularity) Priority() int              { return 100 }
func (Popularity) RunsOnMissingPackage() bool { return false }
func (Popularity) RunsOnMissingVersion() bool { return false }
func (Popularity) NeedsWeeklyDownloads() bool { return true }
func (Popularity) NeedsAdvisories() bool      { return false }

func (Popularity) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	if cctx.Metadata.WeeklyDownloads == nil {
		return nil, nil
	}

	downloads := *cctx.Metadata.WeeklyDownloads
	if downloads >= uint64(cctx.Config.MinWeeklyDownloads) {
		return nil, nil
	}

	return []core.Finding{{
		CheckID:  "popularity",
		Severity: core.SeverityMedium,
		Message: fmt.Sprintf("%s has low adoption (%d weekly downloads, < %d)",
			cctx.Ref.Name, downloads, cctx.Config.MinWeeklyDownloads),
	}}, nil
}
