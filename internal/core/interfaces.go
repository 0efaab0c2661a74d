package core

import "context"

// Check is the one dynamic-dispatch surface checks implement. Implementations
// must be safe to call concurrently with other checks sharing the same
// CheckExecutionContext.
type Check interface {
	ID() string
	Description() string
	Priority() int
	RunsOnMissingPackage() bool
	RunsOnMissingVersion() bool
	NeedsWeeklyDownloads() bool
	NeedsAdvisories() bool
	Run(ctx context.Context, cctx CheckExecutionContext) ([]Finding, error)
}

// LockfileParser turns a project file's bytes into a deduplicated, ordered
// list of package references for one registry.
type LockfileParser interface {
	// Filenames returns the project file names this parser recognizes,
	// in the order they should be probed for.
	Filenames() []string
	Parse(data []byte, filename string) ([]PackageRef, error)
}

// RegistryProvider is the other dynamic-dispatch surface: the contract every
// package registry backend implements.
type RegistryProvider interface {
	Key() string
	FetchMetadata(ctx context.Context, name, version string) (PackageMetadata, error)
	FetchDownloads(ctx context.Context, name string) (uint64, bool, error)
	FetchInstallScriptFlag(ctx context.Context, name, version string) (TristateBool, error)
	SupportedChecks() map[string]bool
	LockfileParser() (LockfileParser, bool)
}

// AdvisoryProvider returns advisories for one (registry, name, version).
type AdvisoryProvider interface {
	FetchAdvisories(ctx context.Context, registry, name, version string) ([]Advisory, error)
}
