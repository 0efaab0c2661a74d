package checks

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/saferun/safe-pkgs/internal/core"
)

// Staleness flags a requested version that has fallen behind latest, plus a
// version the registry has marked deprecated.
type Staleness struct{}

func (Staleness) ID() string                 { return "staleness" }
func (Staleness) Description() string        { return "requested version is not stale or deprecated" }
func (Staleness) Priority() int              { return 100 }
func (Staleness) RunsOnMissingPackage() bool { return false }
func (Staleness) RunsOnMissingVersion() bool { return false }
func (Staleness) NeedsWeeklyDownloads() bool { return false }
func (Staleness) NeedsAdvisories() bool      { return false }

func (Staleness) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	var findings []core.Finding
	requested := cctx.Metadata.RequestedVersion
	name := cctx.Ref.Name

	if cctx.Metadata.Deprecated {
		findings = append(findings, core.Finding{
			CheckID:  "staleness",
			Severity: core.SeverityHigh,
			Message:  fmt.Sprintf("%s@%s is marked deprecated", name, requested),
		})
	}

	if isIgnored(name, requested, cctx.Config.Staleness.IgnoreFor) {
		return findings, nil
	}

	// The gap rule is checked ahead of release age: a package that is both
	// old and far behind latest is reported by the major/minor-behind rule,
	// never downgraded to the age rule's lower severity.
	if core.CompareVersions(cctx.Metadata.LatestVersion, requested) > 0 {
		gap := core.VersionGapBetween(requested, cctx.Metadata.LatestVersion)
		if gap.Comparable {
			switch {
			case gap.MajorBehind >= cctx.Config.Staleness.WarnMajorVersionsBehind:
				findings = append(findings, core.Finding{
					CheckID:  "staleness",
					Severity: core.SeverityMedium,
					Message: fmt.Sprintf("%s@%s is %d major version(s) behind latest (%s)",
						name, requested, gap.MajorBehind, cctx.Metadata.LatestVersion),
				})
				return findings, nil
			case gap.MajorBehind >= 1:
				findings = append(findings, core.Finding{
					CheckID:  "staleness",
					Severity: core.SeverityLow,
					Message: fmt.Sprintf("%s@%s is %d major version(s) behind latest (%s)",
						name, requested, gap.MajorBehind, cctx.Metadata.LatestVersion),
				})
				return findings, nil
			case gap.MinorBehind >= cctx.Config.Staleness.WarnMinorVersionsBehind:
				findings = append(findings, core.Finding{
					CheckID:  "staleness",
					Severity: core.SeverityLow,
					Message: fmt.Sprintf("%s@%s is %d minor version(s) behind latest (%s)",
						name, requested, gap.MinorBehind, cctx.Metadata.LatestVersion),
				})
				return findings, nil
			}
		}
	}

	if cctx.Metadata.PublishedAt != nil {
		ageDays := int(cctx.Now.Sub(*cctx.Metadata.PublishedAt).Hours() / 24)
		if ageDays >= cctx.Config.Staleness.WarnAgeDays {
			findings = append(findings, core.Finding{
				CheckID:  "staleness",
				Severity: core.SeverityLow,
				Message: fmt.Sprintf("%s@%s is %d day(s) old (>= %d)",
					name, requested, ageDays, cctx.Config.Staleness.WarnAgeDays),
			})
		}
	}

	return findings, nil
}

// isIgnored matches a bare package name, an exact "name@version" pair, or a
// major-wildcard "name@N.x" pattern against the configured ignore list.
func isIgnored(name, version string, ignoreFor []string) bool {
	for _, rule := range ignoreFor {
		if rule == name {
			return true
		}

		rulePackage, ruleVersion, ok := strings.Cut(rule, "@")
		if !ok || rulePackage != name {
			continue
		}
		if ruleVersion == version {
			return true
		}

		majorPrefix, ok := strings.CutSuffix(ruleVersion, ".x")
		if !ok {
			continue
		}
		ruleMajor, err := strconv.ParseUint(majorPrefix, 10, 64)
		if err != nil {
			continue
		}
		parsed, err := semver.NewVersion(version)
		if err != nil {
			continue
		}
		if parsed.Major() == ruleMajor {
			return true
		}
	}
	return false
}
