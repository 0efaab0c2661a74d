package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/saferun/safe-pkgs/internal/core"
)

func TestLogDecision_AppendsOneLinePerCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.log")

	logger, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer logger.Close()

	ref := core.PackageRef{Registry: "npm", Name: "left-pad", Version: "1.0.0"}
	decision := core.Decision{Allow: true, Risk: core.SeverityLow, Reasons: []string{"ok"}}

	if err := logger.LogDecision("check_package", ref, decision, false, 12); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}
	if err := logger.LogDecision("check_package", ref, decision, true, 0); err != nil {
		t.Fatalf("LogDecision: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first Record
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Package != "left-pad" || first.Registry != "npm" || first.Cached || first.LatencyMS != 12 {
		t.Errorf("unexpected record: %+v", first)
	}

	var second Record
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !second.Cached {
		t.Errorf("expected second record to be marked cached")
	}
}

func TestDefaultPath_RespectsEnvOverride(t *testing.T) {
	t.Setenv("SAFE_PKGS_AUDIT_LOG_FILE_PATH", "/tmp/custom-audit.log")
	if got := DefaultPath(); got != "/tmp/custom-audit.log" {
		t.Errorf("DefaultPath() = %q, want override", got)
	}
}
