package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/registry/npm"
)

func TestExpand_ResolvesDirectoryToPackageLock(t *testing.T) {
	dir := t.TempDir()
	data := `{"packages":{"":{},"node_modules/left-pad":{"version":"1.0.0"},"node_modules/left-pad-again":{"version":"1.0.0"}}}`
	if err := os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	provider := npm.New(nil)
	refs, err := Expand(provider, dir)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %+v", refs)
	}
}

func TestExpand_AcceptsExplicitFilePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package-lock.json")
	data := `{"packages":{"":{},"node_modules/left-pad":{"version":"1.0.0"}}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	provider := npm.New(nil)
	refs, err := Expand(provider, path)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "left-pad" {
		t.Fatalf("unexpected refs: %+v", refs)
	}
}

func TestExpand_DeduplicatesRepeatedReferences(t *testing.T) {
	refs := dedup([]core.PackageRef{
		{Registry: "npm", Name: "a", Version: "1.0.0"},
		{Registry: "npm", Name: "a", Version: "1.0.0"},
		{Registry: "npm", Name: "b", Version: "2.0.0"},
	})
	if len(refs) != 2 {
		t.Fatalf("expected 2 deduplicated refs, got %+v", refs)
	}
}

func TestExpand_MissingDirectoryReturnsLockfileError(t *testing.T) {
	provider := npm.New(nil)
	_, err := Expand(provider, filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}
