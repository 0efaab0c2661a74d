package core

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// VersionGap describes how far a requested version trails the latest one.
type VersionGap struct {
	MajorBehind int
	MinorBehind int
	Comparable  bool // false when either side could not be parsed as semver
}

// CompareVersions returns -1, 0, 1 the way a semver comparator would, falling
// back to a numeric-run-aware lexicographic comparison for non-semver strings
// so ordering stays deterministic even for registries with loose versioning.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return compareLexicalNumeric(a, b)
}

var numericRun = regexp.MustCompile(`\d+|\D+`)

// compareLexicalNumeric compares strings run-by-run, treating maximal digit
// runs as numbers so "2.9" sorts before "2.10".
func compareLexicalNumeric(a, b string) int {
	runsA := numericRun.FindAllString(a, -1)
	runsB := numericRun.FindAllString(b, -1)
	for i := 0; i < len(runsA) && i < len(runsB); i++ {
		ra, rb := runsA[i], runsB[i]
		na, errA := strconv.Atoi(ra)
		nb, errB := strconv.Atoi(rb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if ra != rb {
			return strings.Compare(ra, rb)
		}
	}
	return strings.Compare(a, b)
}

// VersionGapBetween computes how many major/minor releases requested trails
// latest. Comparable is false (and the gap is zero-valued) when either string
// fails to parse as semver, since a major/minor gap isn't well defined outside
// semver.
func VersionGapBetween(requested, latest string) VersionGap {
	vr, errR := semver.NewVersion(requested)
	vl, errL := semver.NewVersion(latest)
	if errR != nil || errL != nil {
		return VersionGap{Comparable: false}
	}
	major := int(vl.Major()) - int(vr.Major())
	if major < 0 {
		major = 0
	}
	minor := 0
	if vl.Major() == vr.Major() {
		minor = int(vl.Minor()) - int(vr.Minor())
		if minor < 0 {
			minor = 0
		}
	}
	return VersionGap{MajorBehind: major, MinorBehind: minor, Comparable: true}
}

// SameMajor reports whether two semver strings share a major version. Returns
// false for non-semver input.
func SameMajor(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.Major() == vb.Major()
}
