// Package registry holds the catalog of registered RegistryProviders and the
// (registry × check) support matrix the support-map command prints. The
// matrix is read from each provider's SupportedChecks, the same declaration
// the orchestrator consults when it selects checks.
package registry

import (
	"sort"

	"github.com/saferun/safe-pkgs/internal/core"
)

// Catalog is an ordered collection of registered providers, keyed by their
// Key(). Composition happens at process startup; no dynamic loading.
type Catalog struct {
	providers map[string]core.RegistryProvider
	order     []string
}

func NewCatalog() *Catalog {
	return &Catalog{providers: map[string]core.RegistryProvider{}}
}

// Register adds a provider to the catalog. Re-registering the same key
// replaces it in place without disturbing iteration order.
func (c *Catalog) Register(p core.RegistryProvider) {
	key := p.Key()
	if _, exists := c.providers[key]; !exists {
		c.order = append(c.order, key)
	}
	c.providers[key] = p
}

// Lookup resolves a provider by key.
func (c *Catalog) Lookup(key string) (core.RegistryProvider, bool) {
	p, ok := c.providers[key]
	return p, ok
}

// Keys returns registered registry keys in registration order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SupportRow is one (registry, check) entry of the support matrix.
type SupportRow struct {
	Registry  string
	CheckID   string
	Supported bool
}

// SupportMatrix returns, for every registered registry and every known check
// id, whether that combination is supported, as declared by that provider's
// SupportedChecks.
func (c *Catalog) SupportMatrix(checkIDs []string) []SupportRow {
	ids := make([]string, len(checkIDs))
	copy(ids, checkIDs)
	sort.Strings(ids)

	var rows []SupportRow
	for _, registryKey := range c.order {
		provider := c.providers[registryKey]
		supported := provider.SupportedChecks()
		for _, id := range ids {
			rows = append(rows, SupportRow{
				Registry:  registryKey,
				CheckID:   id,
				Supported: supported[id],
			})
		}
	}
	return rows
}
