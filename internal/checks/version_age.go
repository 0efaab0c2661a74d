package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
)

// VersionAge flags a requested version published too recently to have
// accrued any community scrutiny.
type VersionAge struct{}

func (VersionAge) ID() string                 { return "version_age" }
func (VersionAge) Description() string        { return "requested version is not too freshly published" }
func (VersionAge) Priority() int              { return 100 }
func (VersionAge) RunsOnMissingPackage() bool { return false }
func (VersionAge) RunsOnMissingVersion() bool { return false }
func (VersionAge) NeedsWeeklyDownloads() bool { return false }
func (VersionAge) NeedsAdvisories() bool      { return false }

func (VersionAge) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	if cctx.Metadata.PublishedAt == nil {
		return nil, nil
	}

	ageDays := int(cctx.Now.Sub(*cctx.Metadata.PublishedAt).Hours() / 24)
	minAge := cctx.Config.MinVersionAgeDays
	if ageDays >= minAge {
		return nil, nil
	}

	return []core.Finding{{
		CheckID:  "version_age",
		Severity: core.SeverityMedium,
		Message: fmt.Sprintf("%s@%s is %d day(s) old (< %d)",
			cctx.Ref.Name, cctx.Metadata.RequestedVersion, ageDays, minAge),
	}}, nil
}
