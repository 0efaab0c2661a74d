// Package cargo implements the registry provider contract for crates.io.
package cargo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/saferun/safe-pkgs/internal/core"
)

const defaultAPIBaseURL = "https://crates.io/api/v1"
const userAgent = "safe-pkgs/1.0"

// Provider is the crates.io registry backend. crates.io exposes no
// publisher or install-script signal, so publishers stay empty and the
// install-script flag is always reported as false.
type Provider struct {
	http    *http.Client
	baseURL string
}

func New(client *http.Client) *Provider {
	base := os.Getenv("SAFE_PKGS_CARGO_REGISTRY_BASE_URL")
	if base == "" {
		base = defaultAPIBaseURL
	}
	return &Provider{http: client, baseURL: strings.TrimRight(base, "/")}
}

func (p *Provider) Key() string { return "cargo" }

type crateSummary struct {
	MaxStableVersion string `json:"max_stable_version"`
	MaxVersion       string `json:"max_version"`
	RecentDownloads  *uint64 `json:"recent_downloads"`
}

type crateVersion struct {
	Num       string `json:"num"`
	CreatedAt string `json:"created_at"`
	Yanked    bool   `json:"yanked"`
}

type crateDetailResponse struct {
	Crate    crateSummary   `json:"crate"`
	Versions []crateVersion `json:"versions"`
}

func (p *Provider) doGet(ctx context.Context, op, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: op, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: op, Err: err}
	}
	return resp, nil
}

func (p *Provider) FetchMetadata(ctx context.Context, name, version string) (core.PackageMetadata, error) {
	reqURL := fmt.Sprintf("%s/crates/%s", p.baseURL, name)
	resp, err := p.doGet(ctx, "cargo.fetch_metadata", reqURL)
	if err != nil {
		return core.PackageMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.PackageMetadata{Exists: false, RequestedVersion: version}, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrRateLimited, Op: "cargo.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "cargo.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body crateDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "cargo.fetch_metadata", Err: err}
	}

	latest := body.Crate.MaxStableVersion
	if latest == "" {
		latest = body.Crate.MaxVersion
	}
	if latest == "" {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "cargo.fetch_metadata", Err: fmt.Errorf("missing crate latest version")}
	}

	known := make([]string, 0, len(body.Versions))
	byVersion := map[string]crateVersion{}
	for _, v := range body.Versions {
		known = append(known, v.Num)
		byVersion[v.Num] = v
	}
	sortVersionsDescending(known)

	resolved := version
	if resolved == "" {
		resolved = latest
	}

	meta := core.PackageMetadata{
		Exists:           true,
		LatestVersion:    latest,
		RequestedVersion: resolved,
		KnownVersions:    known,
		HasInstallScript: core.TristateFalse, // crates.io has no install-hook concept
	}
	if v, ok := byVersion[resolved]; ok {
		meta.Deprecated = v.Yanked
		if t, err := time.Parse(time.RFC3339, v.CreatedAt); err == nil {
			meta.PublishedAt = &t
		}
	}
	return meta, nil
}

func (p *Provider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	reqURL := fmt.Sprintf("%s/crates/%s", p.baseURL, name)
	resp, err := p.doGet(ctx, "cargo.fetch_downloads", reqURL)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "cargo.fetch_downloads", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body struct {
		Crate crateSummary `json:"crate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "cargo.fetch_downloads", Err: err}
	}
	if body.Crate.RecentDownloads == nil {
		return 0, false, nil
	}
	return *body.Crate.RecentDownloads, true, nil
}

// FetchInstallScriptFlag always reports false: crates.io builds run through
// cargo's build.rs/proc-macro model, not an npm-style lifecycle hook, so the
// install_script check has nothing to observe here.
func (p *Provider) FetchInstallScriptFlag(ctx context.Context, name, version string) (core.TristateBool, error) {
	return core.TristateFalse, nil
}

func (p *Provider) SupportedChecks() map[string]bool {
	return map[string]bool{
		"existence":      true,
		"version_age":    true,
		"staleness":      true,
		"typosquat":      true,
		"popularity":     true,
		"install_script": false,
		"advisory":       true,
	}
}

func (p *Provider) LockfileParser() (core.LockfileParser, bool) {
	return lockfileParser{}, true
}

func sortVersionsDescending(versions []string) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && core.CompareVersions(versions[j-1], versions[j]) < 0; j-- {
			versions[j-1], versions[j] = versions[j], versions[j-1]
		}
	}
}
