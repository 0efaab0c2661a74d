// Package orchestrator implements the package-decision pipeline: policy
// pre-checks, cache lookup, metadata and advisory fetch, concurrent check
// execution, and aggregation into one Decision.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/saferun/safe-pkgs/internal/audit"
	"github.com/saferun/safe-pkgs/internal/cache"
	"github.com/saferun/safe-pkgs/internal/core"
	"github.com/saferun/safe-pkgs/internal/logger"
	"github.com/saferun/safe-pkgs/internal/registry"
	"github.com/saferun/safe-pkgs/internal/retry"
	"github.com/saferun/safe-pkgs/internal/workerpool"
)

const (
	defaultRequestDeadline     = 20 * time.Second
	defaultLockfileConcurrency = 16
	defaultRetryBudget         = 6
)

// Orchestrator wires the registry catalog, the check set, the decision
// cache, and the audit log into the evaluate-one-package and
// expand-one-lockfile operations.
type Orchestrator struct {
	Catalog    *registry.Catalog
	Advisories core.AdvisoryProvider
	Checks     []core.Check
	Cache      *cache.Cache
	Audit      *audit.Logger
	Logger     *logger.Logger
	Config     *core.Config

	// now, when set, replaces time.Now for deterministic tests.
	now func() time.Time

	// deadline, when set, replaces defaultRequestDeadline for tests that
	// need to exercise the timeout path without waiting 20 seconds.
	deadline time.Duration
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func (o *Orchestrator) requestDeadline() time.Duration {
	if o.deadline != 0 {
		return o.deadline
	}
	return defaultRequestDeadline
}

// Evaluate runs the full decision pipeline for one package reference. Every
// named error kind in the taxonomy (Unsupported, Provider, Internal) is
// resolved into a Decision before this returns; the error return exists for
// symmetry with ExpandLockfile's worker pool and is always nil in practice.
func (o *Orchestrator) Evaluate(ctx context.Context, ref core.PackageRef, requestContext, requestID string) (decision core.Decision, _ error) {
	start := o.clock()
	ctx, cancel := context.WithTimeout(ctx, o.requestDeadline())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ierr := core.InternalError("panic during evaluation", fmt.Errorf("%v", r))
			if o.Logger != nil {
				o.Logger.Error("orchestrator_panic", ierr.Error(), map[string]any{"correlation_id": ierr.CorrelationID})
			}
			decision = core.Decision{
				Allow:   false,
				Risk:    core.SeverityCritical,
				Reasons: []string{fmt.Sprintf("internal error (correlation id %s)", ierr.CorrelationID)},
			}
			o.record(requestContext, ref, decision, false, o.clock().Sub(start))
			o.log(ref, decision, false, start, requestID)
		}
	}()

	provider, ok := o.Catalog.Lookup(ref.Registry)
	if !ok {
		decision = unsupportedDecision(fmt.Sprintf("unknown registry %q", ref.Registry))
		o.record(requestContext, ref, decision, false, o.clock().Sub(start))
		o.log(ref, decision, false, start, requestID)
		return decision, nil
	}

	if rule, matched := matchingPackageRule(o.Config.Policy.DenyPackages, ref.Name, ref.Version, ""); matched {
		decision = denyDecision(fmt.Sprintf("%s matched denylist package rule %q", ref.Name, rule), core.PackageMetadata{})
		o.record(requestContext, ref, decision, false, o.clock().Sub(start))
		o.log(ref, decision, false, start, requestID)
		return decision, nil
	}

	key := cache.Key(ref)
	if cached, hit := o.Cache.Get(key, o.clock()); hit {
		o.record(requestContext, ref, cached, true, o.clock().Sub(start))
		o.log(ref, cached, true, start, requestID)
		return cached, nil
	}

	budget := retry.NewBudget(defaultRetryBudget)

	var metadata core.PackageMetadata
	err := retry.Do(ctx, budget, func() error {
		m, err := provider.FetchMetadata(ctx, ref.Name, ref.Version)
		if err != nil {
			return err
		}
		metadata = m
		return nil
	})

	switch {
	case err != nil && ctx.Err() != nil:
		decision = timeoutDecision()
	case err != nil:
		decision = providerFailureDecision("fetching package metadata", err)
	default:
		decision = o.evaluateWithMetadata(ctx, provider, ref, metadata, budget)
		if ctx.Err() != nil {
			// The deadline fired mid-evaluation: discard whatever partial
			// findings were collected rather than serve them as final.
			decision = timeoutDecision()
		} else {
			o.Cache.Put(key, decision, o.clock(), time.Duration(o.Config.CacheTTLMinutes)*time.Minute)
		}
	}

	o.record(requestContext, ref, decision, false, o.clock().Sub(start))
	o.log(ref, decision, false, start, requestID)
	return decision, nil
}

// timeoutDecision is the fail-closed result for a request whose deadline
// fired before the pipeline completed.
func timeoutDecision() core.Decision {
	return core.Decision{Allow: false, Risk: core.SeverityCritical, Reasons: []string{"evaluation timed out"}}
}

// unsupportedDecision is the §7 fail-closed result for a registry the
// catalog has no provider for: Unsupported surfaces as a decision, not an
// error, so callers never see a bare Go error for a named taxonomy kind.
func unsupportedDecision(reason string) core.Decision {
	return core.Decision{Allow: false, Risk: core.SeverityCritical, Reasons: []string{core.UnsupportedError(reason, nil).Error()}}
}

// providerFailureDecision is the §7 fail-closed result for a registry
// provider call that exhausted its retries without a timeout.
func providerFailureDecision(op string, err error) core.Decision {
	return core.Decision{Allow: false, Risk: core.SeverityCritical, Reasons: []string{core.ProviderError(op, err).Error()}}
}

func (o *Orchestrator) evaluateWithMetadata(ctx context.Context, provider core.RegistryProvider, ref core.PackageRef, metadata core.PackageMetadata, budget *retry.Budget) core.Decision {
	supported := provider.SupportedChecks()
	applicable := o.selectChecks(supported, ref.Registry)

	cctx := core.CheckExecutionContext{Ref: ref, Metadata: metadata, Config: o.Config, Now: o.clock()}

	existenceFindings, existenceCritical := o.runExistence(ctx, applicable, cctx)
	if existenceCritical {
		decision := aggregate(existenceFindings, nil, o.Config.MaxRisk, false)
		decision.Metadata = projectMetadata(metadata, nil)
		return decision
	}

	resolvedVersion := metadata.RequestedVersion

	if rule, matched := matchingPackageRule(o.Config.Policy.DenyPackages, ref.Name, ref.Version, resolvedVersion); matched {
		decision := denyDecision(fmt.Sprintf("%s matched denylist package rule %q", ref.Name, rule), metadata)
		return decision
	}
	if publisher, matched := matchingPublisher(o.Config.Policy.DenyPublishers, metadata.Publishers); matched {
		decision := denyDecision(fmt.Sprintf("%s is published by denylisted publisher %q", ref.Name, publisher), metadata)
		return decision
	}

	allowlisted := false
	var notes []string
	if rule, matched := matchingPackageRule(o.Config.Policy.AllowPackages, ref.Name, ref.Version, resolvedVersion); matched {
		allowlisted = true
		notes = append(notes, fmt.Sprintf("%s matched allowlist package rule %q", ref.Name, rule))
	}

	rest := nonExistence(applicable)
	if needWeeklyDownloads(rest) {
		var downloads uint64
		var have bool
		_ = retry.Do(ctx, budget, func() error {
			d, ok, err := provider.FetchDownloads(ctx, ref.Name)
			if err != nil {
				return err
			}
			downloads, have = d, ok
			return nil
		})
		if have {
			metadata.WeeklyDownloads = &downloads
		}
	}

	cctx.Metadata = metadata

	if needAdvisories(rest) && o.Advisories != nil {
		var advisories []core.Advisory
		advErr := retry.Do(ctx, budget, func() error {
			a, err := o.Advisories.FetchAdvisories(ctx, ref.Registry, ref.Name, resolvedVersion)
			if err != nil {
				return err
			}
			advisories = a
			return nil
		})
		cctx.Advisories = advisories
		cctx.AdvisoryErr = advErr
	}

	var findings []core.Finding
	if len(rest) == 0 {
		notes = append(notes, "no applicable checks")
	} else {
		findings = o.runConcurrent(ctx, rest, cctx)
	}

	decision := aggregate(findings, notes, o.Config.MaxRisk, allowlisted)
	decision.Metadata = projectMetadata(metadata, cctx.Advisories)
	return decision
}

// runExistence runs the existence check sequentially and reports whether it
// produced a critical (package-or-version-not-found) finding.
func (o *Orchestrator) runExistence(ctx context.Context, applicable []core.Check, cctx core.CheckExecutionContext) ([]core.Finding, bool) {
	for _, c := range applicable {
		if c.ID() != "existence" {
			continue
		}
		findings, err := c.Run(ctx, cctx)
		if err != nil {
			return []core.Finding{{CheckID: "existence", Severity: core.SeverityHigh, Message: err.Error()}}, false
		}
		for _, f := range findings {
			if f.Severity == core.SeverityCritical {
				return findings, true
			}
		}
		return findings, false
	}
	return nil, false
}

// runConcurrent runs every non-existence check concurrently; a check error
// becomes a single high-severity finding tagged with that check's id and
// does not abort its peers.
func (o *Orchestrator) runConcurrent(ctx context.Context, checks []core.Check, cctx core.CheckExecutionContext) []core.Finding {
	results := make([][]core.Finding, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c core.Check) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					ierr := core.InternalError(fmt.Sprintf("%s check panicked", c.ID()), fmt.Errorf("%v", r))
					if o.Logger != nil {
						o.Logger.Error("check_panic", ierr.Error(), map[string]any{"correlation_id": ierr.CorrelationID})
					}
					results[i] = []core.Finding{{
						CheckID:  c.ID(),
						Severity: core.SeverityCritical,
						Message:  fmt.Sprintf("%s check failed with an internal error (correlation id %s)", c.ID(), ierr.CorrelationID),
					}}
				}
			}()
			findings, err := c.Run(ctx, cctx)
			if err != nil {
				results[i] = []core.Finding{{
					CheckID:  c.ID(),
					Severity: core.SeverityHigh,
					Message:  fmt.Sprintf("%s check failed: %v", c.ID(), err),
				}}
				return
			}
			results[i] = findings
		}(i, c)
	}
	wg.Wait()

	var all []core.Finding
	for _, fs := range results {
		all = append(all, fs...)
	}
	return all
}

func (o *Orchestrator) selectChecks(supported map[string]bool, registryKey string) []core.Check {
	var out []core.Check
	for _, c := range o.Checks {
		if !supported[c.ID()] {
			continue
		}
		if o.Config.DisabledForRegistry(registryKey, c.ID()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func nonExistence(checks []core.Check) []core.Check {
	out := make([]core.Check, 0, len(checks))
	for _, c := range checks {
		if c.ID() != "existence" {
			out = append(out, c)
		}
	}
	return out
}

func needWeeklyDownloads(checks []core.Check) bool {
	for _, c := range checks {
		if c.NeedsWeeklyDownloads() {
			return true
		}
	}
	return false
}

func needAdvisories(checks []core.Check) bool {
	for _, c := range checks {
		if c.NeedsAdvisories() {
			return true
		}
	}
	return false
}

// aggregate folds findings into one decision: risk is the lattice join of
// every finding's severity, escalated to high when two or more land at
// medium; allow is risk <= max_risk (risk itself is not lowered by max_risk).
// When allowlisted, risk is clamped to at most low and allow is forced true.
// notes are informational messages (policy matches, "no applicable checks")
// that belong in Reasons without carrying a severity of their own — Finding's
// severity domain is {low, medium, high, critical} and has no "none" member.
func aggregate(findings []core.Finding, notes []string, maxRisk core.Severity, allowlisted bool) core.Decision {
	risk := core.SeverityNone
	mediumCount := 0
	reasons := append([]string{}, notes...)
	for _, f := range findings {
		if f.Message != "" {
			reasons = append(reasons, f.Message)
		}
		if f.Severity == core.SeverityMedium {
			mediumCount++
		}
		risk = core.Join(risk, f.Severity)
	}
	if mediumCount >= 2 && risk.Rank() < core.SeverityHigh.Rank() {
		risk = core.SeverityHigh
	}

	allow := risk.Rank() <= maxRisk.Rank()
	if allowlisted {
		if risk.Rank() > core.SeverityLow.Rank() {
			risk = core.SeverityLow
		}
		allow = true
	}

	return core.Decision{Allow: allow, Risk: risk, Reasons: reasons}
}

func denyDecision(reason string, metadata core.PackageMetadata) core.Decision {
	return core.Decision{
		Allow:    false,
		Risk:     core.SeverityCritical,
		Reasons:  []string{reason},
		Metadata: projectMetadata(metadata, nil),
	}
}

// projectMetadata is the §4.6 step-9 metadata projection: latest, requested,
// published, weekly_downloads, advisory_ids.
func projectMetadata(metadata core.PackageMetadata, advisories []core.Advisory) map[string]any {
	out := map[string]any{
		"latest":    metadata.LatestVersion,
		"requested": metadata.RequestedVersion,
	}
	if metadata.PublishedAt != nil {
		out["published"] = metadata.PublishedAt.UTC().Format(time.RFC3339)
	}
	if metadata.WeeklyDownloads != nil {
		out["weekly_downloads"] = *metadata.WeeklyDownloads
	}
	if len(advisories) > 0 {
		ids := make([]string, len(advisories))
		for i, a := range advisories {
			ids[i] = a.ID
		}
		out["advisory_ids"] = ids
	}
	return out
}

func (o *Orchestrator) record(requestContext string, ref core.PackageRef, decision core.Decision, cached bool, latency time.Duration) {
	if o.Audit == nil {
		return
	}
	_ = o.Audit.LogDecision(requestContext, ref, decision, cached, latency.Milliseconds())
}

func (o *Orchestrator) log(ref core.PackageRef, decision core.Decision, cacheHit bool, start time.Time, requestID string) {
	if o.Logger == nil {
		return
	}
	o.Logger.LogDecision(ref, decision, cacheHit, o.clock().Sub(start), requestID)
}

// matchingPackageRule matches a bare "name" rule, or a "name@version" rule
// against the requested or (once known) resolved version.
func matchingPackageRule(rules []string, name, requestedVersion, resolvedVersion string) (string, bool) {
	for _, rule := range rules {
		if idx := strings.LastIndex(rule, "@"); idx > 0 {
			rulePackage, ruleVersion := rule[:idx], rule[idx+1:]
			if rulePackage == name && (requestedVersion == ruleVersion || (resolvedVersion != "" && resolvedVersion == ruleVersion)) {
				return rule, true
			}
			continue
		}
		if rule == name {
			return rule, true
		}
	}
	return "", false
}

func matchingPublisher(denylistPublishers, publishers []string) (string, bool) {
	for _, denylisted := range denylistPublishers {
		for _, publisher := range publishers {
			if strings.EqualFold(publisher, denylisted) {
				return denylisted, true
			}
		}
	}
	return "", false
}

// ExpandLockfile evaluates every package reference from a lockfile with a
// bounded worker pool.
func (o *Orchestrator) ExpandLockfile(ctx context.Context, refs []core.PackageRef, requestContext string) []workerpool.Result[core.Decision] {
	pool := workerpool.New[core.PackageRef, core.Decision](defaultLockfileConcurrency)
	return pool.Process(refs, func(ref core.PackageRef) (core.Decision, error) {
		return o.Evaluate(ctx, ref, requestContext, "")
	})
}
