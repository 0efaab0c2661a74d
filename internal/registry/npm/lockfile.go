package npm

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/saferun/safe-pkgs/internal/core"
)

type lockfileParser struct{}

func (lockfileParser) Filenames() []string {
	return []string{"package-lock.json", "package.json"}
}

func (lockfileParser) Parse(data []byte, filename string) ([]core.PackageRef, error) {
	switch filename {
	case "package-lock.json":
		return parsePackageLock(data)
	case "package.json":
		return parsePackageManifest(data)
	default:
		return nil, core.LockfileError("unsupported npm project file "+filename, nil)
	}
}

// dedupedDeps preserves first-seen insertion order of package names. set
// replaces a name's version with the latest one given; setIfAbsent keeps the
// first version seen, which the node_modules fallback walk relies on.
type dedupedDeps struct {
	order []string
	seen  map[string]bool
	vers  map[string]string
}

func newDedupedDeps() *dedupedDeps {
	return &dedupedDeps{seen: map[string]bool{}, vers: map[string]string{}}
}

func (d *dedupedDeps) set(name, version string) {
	if !d.seen[name] {
		d.seen[name] = true
		d.order = append(d.order, name)
	}
	d.vers[name] = version
}

func (d *dedupedDeps) setIfAbsent(name, version string) {
	if d.seen[name] {
		return
	}
	d.seen[name] = true
	d.order = append(d.order, name)
	d.vers[name] = version
}

func (d *dedupedDeps) toRefs() []core.PackageRef {
	refs := make([]core.PackageRef, 0, len(d.order))
	for _, name := range d.order {
		refs = append(refs, core.PackageRef{Registry: "npm", Name: name, Version: d.vers[name]})
	}
	return refs
}

func parsePackageLock(data []byte) ([]core.PackageRef, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, core.LockfileError("parse package-lock.json", err)
	}

	deps := newDedupedDeps()

	if rawDeps, ok := root["dependencies"]; ok {
		var top map[string]json.RawMessage
		if err := json.Unmarshal(rawDeps, &top); err == nil {
			for name, raw := range top {
				version := extractLockVersion(raw)
				deps.set(name, normalizeRequestedVersion(version))
			}
		}
	}

	if len(deps.order) == 0 {
		if rawPackages, ok := root["packages"]; ok {
			var packages map[string]json.RawMessage
			if err := json.Unmarshal(rawPackages, &packages); err == nil {
				for modulePath, raw := range packages {
					name := extractPackageNameFromNodeModulesPath(modulePath)
					if name == "" {
						continue
					}
					version := extractLockVersion(raw)
					deps.setIfAbsent(name, normalizeRequestedVersion(version))
				}
			}
		}
	}

	return deps.toRefs(), nil
}

func extractLockVersion(raw json.RawMessage) string {
	var obj struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Version != "" {
		return obj.Version
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return ""
}

func parsePackageManifest(data []byte) ([]core.PackageRef, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, core.LockfileError("parse package.json", err)
	}

	deps := newDedupedDeps()
	for _, section := range []string{"dependencies", "devDependencies", "optionalDependencies"} {
		raw, ok := root[section]
		if !ok {
			continue
		}
		var items map[string]string
		if err := json.Unmarshal(raw, &items); err != nil {
			continue
		}
		for name, version := range items {
			deps.set(name, normalizeRequestedVersion(version))
		}
	}
	return deps.toRefs(), nil
}

func extractPackageNameFromNodeModulesPath(modulePath string) string {
	const marker = "node_modules/"
	idx := strings.LastIndex(modulePath, marker)
	if idx < 0 {
		return ""
	}
	remainder := modulePath[idx+len(marker):]
	return remainder
}

// normalizeRequestedVersion keeps only exact, resolvable versions: a bare
// semver string (an optional leading "=" is stripped). The literal "latest"
// and ranges like "^1.2.3" resolve to empty, meaning "latest".
func normalizeRequestedVersion(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.EqualFold(trimmed, "latest") {
		return ""
	}
	candidate := strings.TrimPrefix(trimmed, "=")
	if _, err := semver.NewVersion(candidate); err == nil {
		return candidate
	}
	return ""
}
