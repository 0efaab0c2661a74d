package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saferun/safe-pkgs/internal/core"
)

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "cache.db"))
	defer c.Close()

	now := time.Now()
	decision := core.Decision{Allow: true, Risk: core.SeverityLow, Reasons: []string{"ok"}}
	c.Put("k1", decision, now, time.Minute)

	got, ok := c.Get("k1", now)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Risk != decision.Risk || got.Allow != decision.Allow {
		t.Errorf("got %+v, want %+v", got, decision)
	}
}

func TestCache_ExpiryIsTreatedAsMiss(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "cache.db"))
	defer c.Close()

	now := time.Now()
	c.Put("k1", core.Decision{Risk: core.SeverityLow}, now, time.Second)

	// expires_at == now is treated as expired, per the boundary rule.
	_, ok := c.Get("k1", now.Add(time.Second))
	if ok {
		t.Error("expected expired entry to be a miss")
	}

	// And a second read should find it already purged.
	_, ok = c.Get("k1", now.Add(time.Second))
	if ok {
		t.Error("expected purged entry to stay a miss")
	}
}

func TestCache_FallsBackInMemoryOnOpenFailure(t *testing.T) {
	dir := t.TempDir()
	// A path with a file in place of a directory component cannot be opened.
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := Open(filepath.Join(blocker, "cache.db"))
	defer c.Close()

	fellBack, err := c.FellBack()
	if !fellBack || err == nil {
		t.Fatalf("expected fallback mode, got fellBack=%v err=%v", fellBack, err)
	}

	now := time.Now()
	c.Put("k1", core.Decision{Risk: core.SeverityHigh}, now, time.Minute)
	got, ok := c.Get("k1", now)
	if !ok || got.Risk != core.SeverityHigh {
		t.Error("in-memory fallback should still serve reads/writes")
	}
}

func TestKey_AbsentVersionNormalizesToLatest(t *testing.T) {
	ref := core.PackageRef{Registry: "npm", Name: "lodash"}
	if got := Key(ref); got != "check_package:npm:lodash@latest" {
		t.Errorf("got %s", got)
	}
}
