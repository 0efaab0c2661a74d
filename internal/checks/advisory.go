package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Advisory turns each vulnerability record the advisory provider returned
// into a finding at that advisory's own severity.
type Advisory struct{}

func (Advisory) ID() string                 { return "advisory" }
func (Advisory) Description() string        { return "no known vulnerabilities affect this version" }
func (Advisory) Priority() int              { return 100 }
func (Advisory) RunsOnMissingPackage() bool { return false }
func (Advisory) RunsOnMissingVersion() bool { return false }
func (Advisory) NeedsWeeklyDownloads() bool { return false }
func (Advisory) NeedsAdvisories() bool      { return true }

func (Advisory) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	if cctx.AdvisoryErr != nil {
		return []core.Finding{{
			CheckID:  "advisory",
			Severity: core.SeverityHigh,
			Message:  fmt.Sprintf("advisory lookup for %s failed: %v", cctx.Ref.Name, cctx.AdvisoryErr),
		}}, nil
	}

	findings := make([]core.Finding, 0, len(cctx.Advisories))
	requested := cctx.Metadata.RequestedVersion
	for _, adv := range cctx.Advisories {
		severity := adv.Severity
		if !severity.Valid() {
			severity = core.SeverityHigh
		}

		message := fmt.Sprintf("%s@%s is affected by %s: %s", cctx.Ref.Name, requested, adv.ID, adv.Summary)
		if fixed := bestFixedVersion(adv.FixedVersions, requested); fixed != "" {
			message = fmt.Sprintf("%s (fixed in %s)", message, fixed)
		}

		findings = append(findings, core.Finding{
			CheckID:  "advisory",
			Severity: severity,
			Message:  message,
		})
	}

	return findings, nil
}

// bestFixedVersion returns the oldest fixed version newer than requested, or
// "" if none of the advisory's fixed versions improve on it.
func bestFixedVersion(fixedVersions []string, requested string) string {
	best := ""
	for _, candidate := range fixedVersions {
		if core.CompareVersions(candidate, requested) <= 0 {
			continue
		}
		if best == "" || core.CompareVersions(candidate, best) < 0 {
			best = candidate
		}
	}
	return best
}
