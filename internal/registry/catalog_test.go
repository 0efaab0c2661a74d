package registry

import (
	"context"
	"testing"

	"github.com/saferun/safe-pkgs/internal/core"
)

type stubProvider struct {
	key      string
	checks   map[string]bool
}

func (s stubProvider) Key() string { return s.key }
func (s stubProvider) FetchMetadata(ctx context.Context, name, version string) (core.PackageMetadata, error) {
	return core.PackageMetadata{}, nil
}
func (s stubProvider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	return 0, false, nil
}
func (s stubProvider) FetchInstallScriptFlag(ctx context.Context, name, version string) (core.TristateBool, error) {
	return core.TristateUnknown, nil
}
func (s stubProvider) SupportedChecks() map[string]bool { return s.checks }
func (s stubProvider) LockfileParser() (core.LockfileParser, bool) { return nil, false }

func TestCatalog_SupportMatrix(t *testing.T) {
	c := NewCatalog()
	c.Register(stubProvider{key: "npm", checks: map[string]bool{"existence": true, "popularity": true}})
	c.Register(stubProvider{key: "cargo", checks: map[string]bool{"existence": true}})

	rows := c.SupportMatrix([]string{"existence", "popularity"})
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (2 registries x 2 checks), got %d", len(rows))
	}

	byKey := map[string]bool{}
	for _, r := range rows {
		byKey[r.Registry+":"+r.CheckID] = r.Supported
	}
	if !byKey["npm:popularity"] {
		t.Error("npm should support popularity")
	}
	if byKey["cargo:popularity"] {
		t.Error("cargo should not support popularity")
	}
}

func TestCatalog_KeysPreservesRegistrationOrder(t *testing.T) {
	c := NewCatalog()
	c.Register(stubProvider{key: "npm"})
	c.Register(stubProvider{key: "cargo"})
	c.Register(stubProvider{key: "pypi"})

	keys := c.Keys()
	want := []string{"npm", "cargo", "pypi"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}
