// Package popularnames embeds the per-registry top-N popular package name
// corpus the typosquat check compares against, guaranteeing offline
// determinism instead of a live fetch.
package popularnames

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed npm.yaml
var npmYAML []byte

//go:embed cargo.yaml
var cargoYAML []byte

//go:embed pypi.yaml
var pypiYAML []byte

type corpus struct {
	Names []string `yaml:"names"`
}

func mustParse(data []byte) []string {
	var c corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		panic("popularnames: embedded corpus failed to parse: " + err.Error())
	}
	return c.Names
}

var byRegistry = map[string][]string{
	"npm":   mustParse(npmYAML),
	"cargo": mustParse(cargoYAML),
	"pypi":  mustParse(pypiYAML),
}

// For returns the top-N popular package names for registryKey, up to n
// entries. An unknown registry key yields an empty, non-nil slice.
func For(registryKey string, n int) []string {
	names := byRegistry[registryKey]
	if n >= len(names) {
		out := make([]string, len(names))
		copy(out, names)
		return out
	}
	out := make([]string, n)
	copy(out, names[:n])
	return out
}
