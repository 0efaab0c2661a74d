package pypi

import (
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/saferun/safe-pkgs/internal/core"
)

type lockfileParser struct{}

func (lockfileParser) Filenames() []string {
	return []string{"requirements.txt", "pyproject.toml"}
}

func (lockfileParser) Parse(data []byte, filename string) ([]core.PackageRef, error) {
	switch filename {
	case "requirements.txt":
		return parseRequirementsFile(data)
	case "pyproject.toml":
		return parsePyprojectManifest(data)
	default:
		return nil, core.LockfileError("unsupported pypi project file "+filename, nil)
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
		refs = append(refs, core.PackageRef{Registry: "pypi", Name: name, Version: d.vers[name]})
	}
	return refs
}

func parseRequirementsFile(data []byte) ([]core.PackageRef, error) {
	deps := newOrderedDeps()
	for _, line := range strings.Split(string(data), "\n") {
		if name, version, ok := parsePythonRequirementLine(line); ok {
			deps.insert(name, version)
		}
	}
	return deps.toRefs(), nil
}

type pyprojectRoot struct {
	Project struct {
		Dependencies          []string            `toml:"dependencies"`
		OptionalDependencies  map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any            `toml:"dependencies"`
			Group        map[string]poetryGroup    `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

type poetryGroup struct {
	Dependencies map[string]any `toml:"dependencies"`
}

func parsePyprojectManifest(data []byte) ([]core.PackageRef, error) {
	var root pyprojectRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, core.LockfileError("parse pyproject.toml", err)
	}

	deps := newOrderedDeps()
	for _, raw := range root.Project.Dependencies {
		if name, version, ok := parsePythonRequirementLine(raw); ok {
			deps.insert(name, version)
		}
	}
	for _, group := range root.Project.OptionalDependencies {
		for _, raw := range group {
			if name, version, ok := parsePythonRequirementLine(raw); ok {
				deps.insert(name, version)
			}
		}
	}
	parsePoetryDependenciesTable(root.Tool.Poetry.Dependencies, deps)
	for _, group := range root.Tool.Poetry.Group {
		parsePoetryDependenciesTable(group.Dependencies, deps)
	}
	return deps.toRefs(), nil
}

func parsePoetryDependenciesTable(table map[string]any, deps *orderedDeps) {
	for name, raw := range table {
		if strings.EqualFold(name, "python") {
			continue
		}
		normalized := normalizePythonPackageName(name)
		if normalized == "" {
			continue
		}
		var version string
		switch v := raw.(type) {
		case string:
			version = normalizePoetryExactVersion(v)
		case map[string]any:
			if ver, ok := v["version"].(string); ok {
				version = normalizePoetryExactVersion(ver)
			}
		}
		deps.insert(normalized, version)
	}
}

var compareOperators = []string{"===", "==", "~=", ">=", "<=", "!=", "<", ">"}

// parsePythonRequirementLine mirrors parse_python_requirement_line: strips
// environment markers and comments, skips option lines (-r, -e, ...), and
// extracts an exact version only for == / === pins.
func parsePythonRequirementLine(line string) (name, version string, ok bool) {
	candidate := strings.TrimSpace(line)
	if candidate == "" || strings.HasPrefix(candidate, "#") {
		return "", "", false
	}
	if idx := strings.Index(candidate, ";"); idx >= 0 {
		candidate = strings.TrimSpace(candidate[:idx])
	}
	if idx := strings.Index(candidate, "#"); idx >= 0 {
		candidate = strings.TrimSpace(candidate[:idx])
	}
	if candidate == "" || strings.HasPrefix(candidate, "-") {
		return "", "", false
	}

	if idx := strings.Index(candidate, " @ "); idx >= 0 {
		name = normalizePythonPackageName(candidate[:idx])
		if name == "" {
			return "", "", false
		}
		return name, "", true
	}

	for _, op := range compareOperators {
		if idx := strings.Index(candidate, op); idx >= 0 {
			name = normalizePythonPackageName(strings.TrimSpace(candidate[:idx]))
			if name == "" {
				return "", "", false
			}
			rest := strings.TrimSpace(candidate[idx+len(op):])
			if op == "==" || op == "===" {
				version = normalizePythonExactVersion(rest)
			}
			return name, version, true
		}
	}

	name = normalizePythonPackageName(candidate)
	if name == "" {
		return "", "", false
	}
	return name, "", true
}

// normalizePythonPackageName applies PEP 503 normalization: strip extras,
// lowercase, and collapse runs of [-_.] into a single '-'.
func normalizePythonPackageName(raw string) string {
	withoutExtras := raw
	if idx := strings.Index(raw, "["); idx >= 0 {
		withoutExtras = raw[:idx]
	}
	trimmed := strings.TrimSpace(withoutExtras)
	if trimmed == "" || strings.ContainsAny(trimmed, "/\\") {
		return ""
	}
	for _, ch := range trimmed {
		isAlnum := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
		if !isAlnum && ch != '-' && ch != '_' && ch != '.' {
			return ""
		}
	}

	var b strings.Builder
	prevSep := false
	for _, ch := range trimmed {
		isAlnum := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9'
		if isAlnum {
			b.WriteRune(toLower(ch))
			prevSep = false
		} else if !prevSep {
			b.WriteByte('-')
			prevSep = true
		}
	}
	normalized := strings.Trim(b.String(), "-")
	return normalized
}

func toLower(ch rune) rune {
	if ch >= 'A' && ch <= 'Z' {
		return ch + ('a' - 'A')
	}
	return ch
}

func normalizePythonExactVersion(raw string) string {
	candidate := strings.TrimSpace(strings.SplitN(raw, ",", 2)[0])
	if candidate == "" {
		return ""
	}
	if strings.ContainsAny(candidate, "* ;") {
		return ""
	}
	return candidate
}

func normalizePoetryExactVersion(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}
	candidate = strings.TrimSpace(strings.TrimPrefix(candidate, "="))
	if candidate == "" || strings.ContainsAny(candidate, "*^~<> ,") {
		return ""
	}
	return candidate
}
