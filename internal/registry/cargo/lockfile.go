package cargo

import (
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/saferun/safe-pkgs/internal/core"
)

type lockfileParser struct{}

func (lockfileParser) Filenames() []string {
	return []string{"Cargo.lock", "Cargo.toml"}
}

func (lockfileParser) Parse(data []byte, filename string) ([]core.PackageRef, error) {
	switch filename {
	case "Cargo.lock":
		return parseCargoLock(data)
	case "Cargo.toml":
		return parseCargoManifest(data)
	default:
		return nil, core.LockfileError("unsupported cargo project file "+filename, nil)
	}
}

type orderedDeps struct {
	order []string
	vers  map[string]string
	seen  map[string]bool
}

func newOrderedDeps() *orderedDeps {
	return &orderedDeps{vers: map[string]string{}, seen: map[string]bool{}}
}

// insert keeps the first-seen version for a name; an empty first-seen
// version is filled in by the first later non-empty one.
func (d *orderedDeps) insert(name, version string) {
	if !d.seen[name] {
		d.seen[name] = true
		d.order = append(d.order, name)
		d.vers[name] = version
		return
	}
	if d.vers[name] == "" && version != "" {
		d.vers[name] = version
	}
}

func (d *orderedDeps) toRefs() []core.PackageRef {
	refs := make([]core.PackageRef, 0, len(d.order))
	for _, name := range d.order {
		refs = append(refs, core.PackageRef{Registry: "cargo", Name: name, Version: d.vers[name]})
	}
	return refs
}

type lockPackage struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Source  string `toml:"source"`
}

type lockRoot struct {
	Package []lockPackage `toml:"package"`
}

func parseCargoLock(data []byte) ([]core.PackageRef, error) {
	var root lockRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, core.LockfileError("parse Cargo.lock", err)
	}

	deps := newOrderedDeps()
	for _, pkg := range root.Package {
		name := normalizeCrateName(pkg.Name)
		if name == "" || !isCratesIOSource(pkg.Source) {
			continue
		}
		version := normalizeCargoExactVersion(pkg.Version)
		deps.insert(name, version)
	}
	return deps.toRefs(), nil
}

// isCratesIOSource accepts the registry-default (no "source" field, vendored
// local crates) or an explicit crates.io registry+ source; anything else
// (git, path) is skipped, mirroring is_crates_io_source.
func isCratesIOSource(source string) bool {
	if source == "" {
		return true
	}
	return strings.HasPrefix(source, "registry+https://github.com/rust-lang/crates.io-index")
}

type manifestRoot struct {
	Dependencies        map[string]any            `toml:"dependencies"`
	DevDependencies     map[string]any            `toml:"dev-dependencies"`
	BuildDependencies   map[string]any            `toml:"build-dependencies"`
	Workspace           *struct {
		Dependencies map[string]any `toml:"dependencies"`
	} `toml:"workspace"`
	Target map[string]struct {
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	} `toml:"target"`
}

func parseCargoManifest(data []byte) ([]core.PackageRef, error) {
	var root manifestRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, core.LockfileError("parse Cargo.toml", err)
	}

	deps := newOrderedDeps()
	parseManifestSection(root.Dependencies, deps)
	parseManifestSection(root.DevDependencies, deps)
	parseManifestSection(root.BuildDependencies, deps)
	if root.Workspace != nil {
		parseManifestSection(root.Workspace.Dependencies, deps)
	}
	for _, target := range root.Target {
		parseManifestSection(target.Dependencies, deps)
		parseManifestSection(target.DevDependencies, deps)
		parseManifestSection(target.BuildDependencies, deps)
	}
	return deps.toRefs(), nil
}

func parseManifestSection(section map[string]any, deps *orderedDeps) {
	for declaredName, raw := range section {
		name, version, ok := parseManifestDependency(declaredName, raw)
		if !ok {
			continue
		}
		deps.insert(name, version)
	}
}

func parseManifestDependency(declaredName string, raw any) (name, version string, ok bool) {
	switch v := raw.(type) {
	case string:
		name = normalizeCrateName(declaredName)
		if name == "" {
			return "", "", false
		}
		return name, normalizeCargoManifestVersion(v), true
	case map[string]any:
		if !manifestDependencyIsSupportedRegistry(v) {
			return "", "", false
		}
		name = declaredName
		if pkg, ok := v["package"].(string); ok && pkg != "" {
			name = pkg
		}
		name = normalizeCrateName(name)
		if name == "" {
			return "", "", false
		}
		ver, _ := v["version"].(string)
		return name, normalizeCargoManifestVersion(ver), true
	default:
		return "", "", false
	}
}

func manifestDependencyIsSupportedRegistry(entries map[string]any) bool {
	if _, ok := entries["path"]; ok {
		return false
	}
	if _, ok := entries["git"]; ok {
		return false
	}
	if ws, ok := entries["workspace"].(bool); ok && ws {
		return false
	}
	if registry, ok := entries["registry"].(string); ok {
		return strings.EqualFold(registry, "crates-io")
	}
	return true
}

func normalizeCrateName(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	for _, ch := range trimmed {
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '-' || ch == '_') {
			return ""
		}
	}
	return trimmed
}

func normalizeCargoExactVersion(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" || strings.Contains(candidate, " ") {
		return ""
	}
	return candidate
}

func normalizeCargoManifestVersion(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" || candidate == "*" {
		return ""
	}
	exact := strings.TrimSpace(strings.TrimPrefix(candidate, "="))
	if exact == "" {
		return ""
	}
	for _, ch := range []string{"*", " ", "^", "~", "<", ">", ",", "|"} {
		if strings.Contains(exact, ch) {
			return ""
		}
	}
	return exact
}
