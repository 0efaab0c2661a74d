// Package lockfile resolves a project path to the right dependency file for
// a registry and turns it into the deduplicated package reference list the
// orchestrator fans out over.
package lockfile

import (
	"os"
	"path/filepath"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Expand locates and parses the dependency file for provider's registry under path
// (a file or a directory), returning package references in first-seen order
// with duplicate (name, version) pairs removed.
func Expand(provider core.RegistryProvider, path string) ([]core.PackageRef, error) {
	parser, ok := provider.LockfileParser()
	if !ok {
		return nil, core.UnsupportedError("registry "+provider.Key()+" has no lockfile parser", nil)
	}

	file, err := resolveFile(path, parser)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, core.LockfileError("reading "+file, err)
	}

	refs, err := parser.Parse(data, filepath.Base(file))
	if err != nil {
		return nil, core.LockfileError("parsing "+file, err)
	}

	return dedup(refs), nil
}

// resolveFile returns path itself if it names a file, or the first of the
// parser's recognized filenames found directly under path if it names a
// directory.
func resolveFile(path string, parser core.LockfileParser) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", core.LockfileError("locating "+path, err)
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, name := range parser.Filenames() {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", core.LockfileError("no recognized dependency file under "+path, nil)
}

func dedup(refs []core.PackageRef) []core.PackageRef {
	seen := make(map[core.PackageRef]bool, len(refs))
	out := make([]core.PackageRef, 0, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, ref)
	}
	return out
}
