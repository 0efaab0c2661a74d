package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/saferun/safe-pkgs/internal/audit"
	"github.com/saferun/safe-pkgs/internal/cache"
	"github.com/saferun/safe-pkgs/internal/checks"
	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/registry"
)

type stubProvider struct {
	metadata core.PackageMetadata
	metaErr error
	downloads uint64
	hasDownloads bool
}

func (s *stubProvider) Key() string { return "npm" }
func (s *stubProvider) FetchMetadata(ctx context.Context, name, version string) (core.PackageMetadata, error) {
	return s.metadata, s.metaErr
}
func (s *stubProvider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	return s.downloads, s.hasDownloads, nil
}
func (s *stubProvider) FetchInstallScriptFlag(ctx context.Context, name, version string) (core.TristateBool, error) {
	return s.metadata.HasInstallScript, nil
}
func (s *stubProvider) SupportedChecks() map[string]bool {
	return map[string]bool{
		"existence": true, "version_age": true, "staleness": true,
		"typosquat": true, "popularity": true, "install_script": true, "advisory": true,
	}
}
func (s *stubProvider) LockfileParser() (core.LockfileParser, bool) { return nil, false }

// blockingProvider never returns from FetchMetadata until its context is
// cancelled, simulating a registry call that outlives the request deadline.
type blockingProvider struct {
	unblock chan struct{}
}

func (b *blockingProvider) Key() string { return "npm" }
func (b *blockingProvider) FetchMetadata(ctx context.Context, name, version string) (core.PackageMetadata, error) {
	select {
	case <-ctx.Done():
		return core.PackageMetadata{}, ctx.Err()
	case <-b.unblock:
		return core.PackageMetadata{}, context.Canceled
	}
}
func (b *blockingProvider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	return 0, false, nil
}
func (b *blockingProvider) FetchInstallScriptFlag(ctx context.Context, name, version string) (core.TristateBool, error) {
	return core.TristateUnknown, nil
}
func (b *blockingProvider) SupportedChecks() map[string]bool { return map[string]bool{"existence": true} }
func (b *blockingProvider) LockfileParser() (core.LockfileParser, bool) { return nil, false }

type stubAdvisories struct {
	advisories []core.Advisory
	err        error
}

func (s *stubAdvisories) FetchAdvisories(ctx context.Context, registryKey, name, version string) ([]core.Advisory, error) {
	return s.advisories, s.err
}

func newOrchestrator(t *testing.T, provider core.RegistryProvider) (*Orchestrator, *stubAdvisories) {
	t.Helper()
	cat := registry.NewCatalog()
	cat.Register(provider)
	advisories := &stubAdvisories{}

	c := cache.Open(t.TempDir() + "/cache.db")
	auditLogger, err := audit.Open(t.TempDir() + "/audit.log")
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	cfg := core.DefaultConfig()
	fixed := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)
	return &Orchestrator{
		Catalog:    cat,
		Advisories: advisories,
		Checks:     checks.All(),
		Cache:      c,
		Audit:      auditLogger,
		Config:     cfg,
		now:        func() time.Time { return fixed },
	}, advisories
}

func TestEvaluate_HealthyPackageAllows(t *testing.T) {
	published := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	downloads := uint64(10000)
	provider := &stubProvider{
		metadata: core.PackageMetadata{
			Exists: true, LatestVersion: "1.0.0", RequestedVersion: "1.0.0",
			KnownVersions: []string{"1.0.0"}, PublishedAt: &published,
		},
		downloads: downloads, hasDownloads: true,
	}
	o, _ := newOrchestrator(t, provider)

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "lodash", Version: "1.0.0"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A six-year-old version trips the staleness check's age-based low
	// finding even though nothing else fires.
	if !decision.Allow || decision.Risk != core.SeverityLow {
		t.Fatalf("expected allow/low, got %+v", decision)
	}
}

func TestEvaluate_MissingPackageDeniesWithoutRunningOtherChecks(t *testing.T) {
	provider := &stubProvider{metadata: core.PackageMetadata{Exists: false}}
	o, _ := newOrchestrator(t, provider)

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "ghost-pkg"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allow || decision.Risk != core.SeverityCritical {
		t.Fatalf("expected deny/critical, got %+v", decision)
	}
	if len(decision.Reasons) != 1 {
		t.Fatalf("expected exactly one reason from existence short-circuit, got %v", decision.Reasons)
	}
}

func TestEvaluate_DenylistShortCircuitsBeforeNetwork(t *testing.T) {
	provider := &stubProvider{metaErr: context.DeadlineExceeded}
	o, _ := newOrchestrator(t, provider)
	o.Config.Policy.DenyPackages = []string{"evil-pkg"}

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "evil-pkg"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allow || decision.Risk != core.SeverityCritical {
		t.Fatalf("expected deny/critical, got %+v", decision)
	}
}

func TestEvaluate_AllowlistClampsRiskToLow(t *testing.T) {
	provider := &stubProvider{
		metadata: core.PackageMetadata{
			Exists: true, LatestVersion: "1.0.0", RequestedVersion: "1.0.0",
			KnownVersions: []string{"1.0.0"}, HasInstallScript: core.TristateTrue,
		},
	}
	o, _ := newOrchestrator(t, provider)
	o.Config.Policy.AllowPackages = []string{"trusted-pkg"}

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "trusted-pkg", Version: "1.0.0"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allow || decision.Risk != core.SeverityLow {
		t.Fatalf("expected allow/low, got %+v", decision)
	}
}

func TestEvaluate_TwoMediumFindingsEscalateToHigh(t *testing.T) {
	downloads := uint64(1)
	provider := &stubProvider{
		metadata: core.PackageMetadata{
			Exists: true, LatestVersion: "5.0.0", RequestedVersion: "1.0.0",
			KnownVersions: []string{"1.0.0", "5.0.0"},
		},
		downloads: downloads, hasDownloads: true,
	}
	o, _ := newOrchestrator(t, provider)

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "lodash", Version: "1.0.0"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Risk != core.SeverityHigh {
		t.Fatalf("expected escalation to high from two medium findings, got %+v", decision)
	}
}

func TestEvaluate_DeadlineExceededDeniesWithCriticalRisk(t *testing.T) {
	provider := &blockingProvider{unblock: make(chan struct{})}
	o, _ := newOrchestrator(t, provider)
	o.deadline = 10 * time.Millisecond
	defer close(provider.unblock)

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "npm", Name: "slow-pkg", Version: "1.0.0"}, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allow || decision.Risk != core.SeverityCritical {
		t.Fatalf("expected deny/critical, got %+v", decision)
	}
	if len(decision.Reasons) != 1 || decision.Reasons[0] != "evaluation timed out" {
		t.Fatalf("expected timeout reason, got %v", decision.Reasons)
	}
}

func TestEvaluate_UnknownRegistryDeniesWithCriticalRiskInsteadOfError(t *testing.T) {
	provider := &stubProvider{}
	o, _ := newOrchestrator(t, provider)

	decision, err := o.Evaluate(context.Background(), core.PackageRef{Registry: "gem", Name: "whatever"}, "check_package", "")
	if err != nil {
		t.Fatalf("Evaluate should resolve Unsupported into a decision, got error: %v", err)
	}
	if decision.Allow || decision.Risk != core.SeverityCritical {
		t.Fatalf("expected deny/critical, got %+v", decision)
	}
	if len(decision.Reasons) != 1 {
		t.Fatalf("expected exactly one reason naming the missing registry support, got %v", decision.Reasons)
	}
}

// panickingCheck is a core.Check stub that panics on Run, used to verify the
// per-check recover in runConcurrent converts it into a finding instead of
// crashing the process.
type panickingCheck struct{ id string }

func (p panickingCheck) ID() string                 { return p.id }
func (p panickingCheck) Description() string        { return "panics" }
func (p panickingCheck) Priority() int              { return 100 }
func (p panickingCheck) RunsOnMissingPackage() bool { return false }
func (p panickingCheck) RunsOnMissingVersion() bool { return false }
func (p panickingCheck) NeedsWeeklyDownloads() bool { return false }
func (p panickingCheck) NeedsAdvisories() bool      { return false }
func (p panickingCheck) Run(ctx context.Context, cctx core.CheckExecutionContext) ([]core.Finding, error) {
	panic("boom")
}

func TestRunConcurrent_RecoversPanicIntoCriticalFinding(t *testing.T) {
	provider := &stubProvider{}
	o, _ := newOrchestrator(t, provider)

	findings := o.runConcurrent(context.Background(), []core.Check{panickingCheck{id: "staleness"}}, core.CheckExecutionContext{})

	if len(findings) != 1 {
		t.Fatalf("expected exactly one recovered finding, got %v", findings)
	}
	if findings[0].Severity != core.SeverityCritical {
		t.Fatalf("expected critical severity for a recovered panic, got %+v", findings[0])
	}
	if findings[0].CheckID != "staleness" {
		t.Fatalf("expected the finding to carry the panicking check's id, got %+v", findings[0])
	}
}

func TestEvaluate_CacheHitSkipsProvider(t *testing.T) {
	published := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &stubProvider{
		metadata: core.PackageMetadata{
			Exists: true, LatestVersion: "1.0.0", RequestedVersion: "1.0.0",
			KnownVersions: []string{"1.0.0"}, PublishedAt: &published,
		},
	}
	o, _ := newOrchestrator(t, provider)
	ref := core.PackageRef{Registry: "npm", Name: "lodash", Version: "1.0.0"}

	first, err := o.Evaluate(context.Background(), ref, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	provider.metaErr = context.DeadlineExceeded // would fail if the provider were consulted again
	second, err := o.Evaluate(context.Background(), ref, "check_package", "")
	if err != nil {
		t.Fatalf("unexpected error on cache hit: %v", err)
	}
	if first.Allow != second.Allow || first.Risk != second.Risk {
		t.Fatalf("expected cached decision to match, got %+v vs %+v", first, second)
	}
}
