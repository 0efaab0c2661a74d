package checks

import (
	"context"
	"fmt"

	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/registry/popularnames"
)

const popularNameSampleSize = 1000

// Typosquat flags a requested package name that is one or two edits away
// from a popular package in the same registry.
type Typosquat struct{}

func (Typosquat) ID() string                 { return "typosquat" }
func (Typosquat) Description() string        { return "name is not a near-miss of a popular package" }
func (Typosquat) Priority() int              { return 100 }
func (Typosquat) RunsOnMissingPackage() bool { return false }
func (Typosquat) RunsOnMissingVersion() bool { return false }
func (Typosquat) NeedsWeeklyDownloads() bool { return false }
func (Typosquat) NeedsAdvisories() bool      { return false }

func (Typosquat) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	name := cctx.Ref.Name
	popular := popularnames.For(cctx.Ref.Registry, popularNameSampleSize)

	bestName := ""
	bestDistance := -1
	for _, candidate := range popular {
		if candidate == name {
			return nil, nil
		}
		d := boundedDamerauLevenshtein(name, candidate, 2)
		if d < 0 {
			continue
		}
		if bestDistance == -1 || d < bestDistance {
			bestDistance = d
			bestName = candidate
		}
	}

	if bestDistance == -1 {
		return nil, nil
	}

	if bestDistance <= 1 {
		return []core.Finding{{
			CheckID:  "typosquat",
			Severity: core.SeverityHigh,
			Message:  fmt.Sprintf("%s differs by one edit from popular package %s", name, bestName),
		}}, nil
	}

	if bestDistance == 2 && commonPrefixLen(name, bestName) >= 3 {
		return []core.Finding{{
			CheckID:  "typosquat",
			Severity: core.SeverityMedium,
			Message:  fmt.Sprintf("%s is two edits from popular package %s and shares its prefix", name, bestName),
		}}, nil
	}

	return nil, nil
}

// boundedDamerauLevenshtein computes the optimal-string-alignment distance
// between lhs and rhs (insertion, deletion, substitution, and adjacent
// transposition), returning -1 once the distance is certain to exceed
// maxDistance so the typosquat scan stays cheap across a large corpus.
func boundedDamerauLevenshtein(lhs, rhs string, maxDistance int) int {
	a := []rune(lhs)
	b := []rune(rhs)
	if abs(len(a)-len(b)) > maxDistance {
		return -1
	}

	rows, cols := len(a)+1, len(b)+1
	d := make([][]int, rows)
	for i := range d {
		d[i] = make([]int, cols)
		d[i][0] = i
	}
	for j := 0; j < cols; j++ {
		d[0][j] = j
	}

	for i := 1; i < rows; i++ {
		rowMin := d[i][0]
		for j := 1; j < cols; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := d[i-1][j] + 1
			ins := d[i][j-1] + 1
			sub := d[i-1][j-1] + cost
			best := min3(del, ins, sub)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				if t := d[i-2][j-2] + 1; t < best {
					best = t
				}
			}
			d[i][j] = best
			if best < rowMin {
				rowMin = best
			}
		}
		if rowMin > maxDistance {
			return -1
		}
	}

	distance := d[rows-1][cols-1]
	if distance > maxDistance {
		return -1
	}
	return distance
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func commonPrefixLen(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	n := 0
	for n < len(ra) && n < len(rb) && ra[n] == rb[n] {
		n++
	}
	return n
}
