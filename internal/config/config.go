package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/saferun/safe-pkgs/internal/core"
)

// overlay mirrors the recognized-options table with pointer fields so the
// merge step can distinguish "absent" from "explicitly zero".
type overlay struct {
	MinVersionAgeDays  *int              `toml:"min_version_age_days"`
	MinWeeklyDownloads *int              `toml:"min_weekly_downloads"`
	MaxRisk            *string           `toml:"max_risk"`
	Cache              *cacheOverlay     `toml:"cache"`
	Staleness          *stalenessOverlay `toml:"staleness"`
	Allowlist          *allowlistOverlay `toml:"allowlist"`
	Denylist           *denylistOverlay  `toml:"denylist"`
	Checks             *checksOverlay    `toml:"checks"`
}

type cacheOverlay struct {
	TTLMinutes *int `toml:"ttl_minutes"`
}

type stalenessOverlay struct {
	WarnMajorVersionsBehind *int     `toml:"warn_major_versions_behind"`
	WarnMinorVersionsBehind *int     `toml:"warn_minor_versions_behind"`
	WarnAgeDays             *int     `toml:"warn_age_days"`
	IgnoreFor               []string `toml:"ignore_for"`
}

type allowlistOverlay struct {
	Packages []string `toml:"packages"`
}

type denylistOverlay struct {
	Packages   []string `toml:"packages"`
	Publishers []string `toml:"publishers"`
}

type checksOverlay struct {
	Disable  []string                          `toml:"disable"`
	Registry map[string]registryChecksOverlay `toml:"registry"`
}

type registryChecksOverlay struct {
	Disable []string `toml:"disable"`
}

// Load reads the global and project config files (each optional) and returns
// the merged, sanitized effective configuration. Paths are resolved with a
// 3-level fallback mirroring the ecosystem config loader this is adapted
// from: explicit env override, well-known default path, or "absent".
func Load() (*core.Config, error) {
	return LoadFromPaths(GlobalPath(), ProjectPath())
}

// LoadFromPaths merges global then project (both may be empty strings,
// meaning "no file") into a fresh default config.
func LoadFromPaths(globalPath, projectPath string) (*core.Config, error) {
	cfg := core.DefaultConfig()
	if globalPath != "" {
		if err := mergeFromFile(cfg, globalPath); err != nil {
			return nil, err
		}
	}
	if projectPath != "" {
		if err := mergeFromFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}
	Sanitize(cfg)
	return cfg, nil
}

func mergeFromFile(cfg *core.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return core.ConfigError("read config file "+path, err)
	}
	var ov overlay
	if err := toml.Unmarshal(data, &ov); err != nil {
		return core.ConfigError("parse config file "+path, err)
	}
	applyOverlay(cfg, ov)
	return nil
}

func applyOverlay(cfg *core.Config, ov overlay) {
	if ov.MinVersionAgeDays != nil {
		cfg.MinVersionAgeDays = *ov.MinVersionAgeDays
	}
	if ov.MinWeeklyDownloads != nil {
		cfg.MinWeeklyDownloads = *ov.MinWeeklyDownloads
	}
	if ov.MaxRisk != nil {
		cfg.MaxRisk = core.Severity(*ov.MaxRisk)
	}
	if ov.Cache != nil && ov.Cache.TTLMinutes != nil {
		cfg.CacheTTLMinutes = *ov.Cache.TTLMinutes
	}
	if ov.Staleness != nil {
		if ov.Staleness.WarnMajorVersionsBehind != nil {
			cfg.Staleness.WarnMajorVersionsBehind = *ov.Staleness.WarnMajorVersionsBehind
		}
		if ov.Staleness.WarnMinorVersionsBehind != nil {
			cfg.Staleness.WarnMinorVersionsBehind = *ov.Staleness.WarnMinorVersionsBehind
		}
		if ov.Staleness.WarnAgeDays != nil {
			cfg.Staleness.WarnAgeDays = *ov.Staleness.WarnAgeDays
		}
		cfg.Staleness.IgnoreFor = appendUnique(cfg.Staleness.IgnoreFor, ov.Staleness.IgnoreFor)
	}
	if ov.Allowlist != nil {
		cfg.Policy.AllowPackages = appendUnique(cfg.Policy.AllowPackages, ov.Allowlist.Packages)
	}
	if ov.Denylist != nil {
		cfg.Policy.DenyPackages = appendUnique(cfg.Policy.DenyPackages, ov.Denylist.Packages)
		cfg.Policy.DenyPublishers = appendUnique(cfg.Policy.DenyPublishers, ov.Denylist.Publishers)
	}
	if ov.Checks != nil {
		cfg.Checks.Disable = appendUnique(cfg.Checks.Disable, ov.Checks.Disable)
		if cfg.Checks.RegistryDisable == nil {
			cfg.Checks.RegistryDisable = map[string][]string{}
		}
		for registryKey, entry := range ov.Checks.Registry {
			key := strings.ToLower(registryKey)
			cfg.Checks.RegistryDisable[key] = appendUnique(cfg.Checks.RegistryDisable[key], entry.Disable)
		}
	}
}

// appendUnique concatenates base then extra, deduplicating while preserving
// first-seen order, per the list-field merge rule.
func appendUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, v := range base {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, v := range extra {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

var validMaxRisk = map[core.Severity]bool{
	core.SeverityNone:     true,
	core.SeverityLow:      true,
	core.SeverityMedium:   true,
	core.SeverityHigh:     true,
	core.SeverityCritical: true,
}

// Sanitize applies the post-merge rules: non-positive integer fields reset to
// default, and an unrecognized max_risk resets to default. It is idempotent,
// so merging with an empty overlay and re-sanitizing yields the same config.
func Sanitize(cfg *core.Config) {
	defaults := core.DefaultConfig()
	if cfg.MinVersionAgeDays <= 0 {
		cfg.MinVersionAgeDays = defaults.MinVersionAgeDays
	}
	if cfg.MinWeeklyDownloads <= 0 {
		cfg.MinWeeklyDownloads = defaults.MinWeeklyDownloads
	}
	if !validMaxRisk[cfg.MaxRisk] {
		cfg.MaxRisk = defaults.MaxRisk
	}
	if cfg.CacheTTLMinutes <= 0 {
		cfg.CacheTTLMinutes = defaults.CacheTTLMinutes
	}
	if cfg.Staleness.WarnMajorVersionsBehind <= 0 {
		cfg.Staleness.WarnMajorVersionsBehind = defaults.Staleness.WarnMajorVersionsBehind
	}
	if cfg.Staleness.WarnMinorVersionsBehind <= 0 {
		cfg.Staleness.WarnMinorVersionsBehind = defaults.Staleness.WarnMinorVersionsBehind
	}
	if cfg.Staleness.WarnAgeDays <= 0 {
		cfg.Staleness.WarnAgeDays = defaults.Staleness.WarnAgeDays
	}
	if cfg.Checks.RegistryDisable == nil {
		cfg.Checks.RegistryDisable = map[string][]string{}
	}
}

// GlobalPath resolves the global config file location: SAFE_PKGS_CONFIG_PATH,
// or the per-user default, or "" if neither is available.
func GlobalPath() string {
	if explicit := os.Getenv("SAFE_PKGS_CONFIG_PATH"); explicit != "" {
		return explicit
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "safe-pkgs", "config.toml")
}

// ProjectPath resolves the project config file location:
// SAFE_PKGS_PROJECT_CONFIG_PATH, or ./.safe-pkgs.toml in the working directory.
func ProjectPath() string {
	if explicit := os.Getenv("SAFE_PKGS_PROJECT_CONFIG_PATH"); explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ".safe-pkgs.toml"
	}
	return filepath.Join(cwd, ".safe-pkgs.toml")
}
