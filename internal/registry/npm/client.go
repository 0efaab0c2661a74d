// Package npm implements the registry provider contract for the npm
// JavaScript package registry.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/saferun/safe-pkgs/internal/core"
)

const defaultBaseURL = "https://registry.npmjs.org"
const defaultDownloadsBaseURL = "https://api.npmjs.org"

var installHooks = []string{"preinstall", "install", "postinstall"}

// Provider is the npm registry backend.
type Provider struct {
	http             *http.Client
	baseURL          string
	downloadsBaseURL string
}

// New returns a Provider using client for outbound calls. Base URLs are
// overridable by environment variable, mirroring the original npm client's
// SAFE_PKGS_NPM_REGISTRY_BASE_URL / SAFE_PKGS_NPM_DOWNLOADS_API_BASE_URL knobs.
func New(client *http.Client) *Provider {
	base := os.Getenv("SAFE_PKGS_NPM_REGISTRY_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	downloads := os.Getenv("SAFE_PKGS_NPM_DOWNLOADS_API_BASE_URL")
	if downloads == "" {
		downloads = defaultDownloadsBaseURL
	}
	return &Provider{http: client, baseURL: strings.TrimRight(base, "/"), downloadsBaseURL: strings.TrimRight(downloads, "/")}
}

func (p *Provider) Key() string { return "npm" }

type packageResponse struct {
	DistTags struct {
		Latest string `json:"latest"`
	} `json:"dist-tags"`
	Maintainers []struct {
		Name string `json:"name"`
	} `json:"maintainers"`
	Versions map[string]struct {
		Deprecated string              `json:"deprecated"`
		Scripts    map[string]string   `json:"scripts"`
	} `json:"versions"`
	Time map[string]string `json:"time"`
}

func encodeName(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "@", "%40"), "/", "%2f")
}

// FetchMetadata resolves latest_version and known_versions from the npm
// registry document; exists=false on a 404 rather than an error, per §4.1.
func (p *Provider) FetchMetadata(ctx context.Context, name, version string) (core.PackageMetadata, error) {
	reqURL := fmt.Sprintf("%s/%s", p.baseURL, encodeName(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_metadata", Err: err}
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_metadata", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.PackageMetadata{Exists: false, RequestedVersion: version}, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrRateLimited, Op: "npm.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "npm.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body packageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "npm.fetch_metadata", Err: err}
	}
	if body.DistTags.Latest == "" {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "npm.fetch_metadata", Err: fmt.Errorf("missing dist-tags.latest")}
	}

	knownVersions := make([]string, 0, len(body.Versions))
	for v := range body.Versions {
		knownVersions = append(knownVersions, v)
	}
	sortVersionsDescending(knownVersions)

	publishers := make([]string, 0, len(body.Maintainers))
	for _, m := range body.Maintainers {
		publishers = append(publishers, m.Name)
	}

	resolved := version
	if resolved == "" {
		resolved = body.DistTags.Latest
	}

	meta := core.PackageMetadata{
		Exists:           true,
		LatestVersion:    body.DistTags.Latest,
		RequestedVersion: resolved,
		KnownVersions:    knownVersions,
		Publishers:       publishers,
	}

	if vmeta, ok := body.Versions[resolved]; ok {
		meta.Deprecated = vmeta.Deprecated != ""
		meta.HasInstallScript = core.TristateFalse
		for _, hook := range installHooks {
			if _, ok := vmeta.Scripts[hook]; ok {
				meta.HasInstallScript = core.TristateTrue
				break
			}
		}
	} else {
		meta.HasInstallScript = core.TristateUnknown
	}

	if raw, ok := body.Time[resolved]; ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.PublishedAt = &t
		}
	}

	return meta, nil
}

type downloadsResponse struct {
	Downloads *uint64 `json:"downloads"`
}

// FetchDownloads queries the npm downloads-point API for the trailing week.
func (p *Provider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	reqURL := fmt.Sprintf("%s/downloads/point/last-week/%s", p.downloadsBaseURL, url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_downloads", Err: err}
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_downloads", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrRateLimited, Op: "npm.fetch_downloads", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "npm.fetch_downloads", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body downloadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "npm.fetch_downloads", Err: err}
	}
	if body.Downloads == nil {
		return 0, false, nil
	}
	return *body.Downloads, true, nil
}

// FetchInstallScriptFlag is folded into FetchMetadata for npm, since the
// registry document already carries the scripts table; this satisfies the
// contract for callers that only need the flag.
func (p *Provider) FetchInstallScriptFlag(ctx context.Context, name, version string) (core.TristateBool, error) {
	meta, err := p.FetchMetadata(ctx, name, version)
	if err != nil {
		return core.TristateUnknown, err
	}
	return meta.HasInstallScript, nil
}

func (p *Provider) SupportedChecks() map[string]bool {
	return map[string]bool{
		"existence":      true,
		"version_age":    true,
		"staleness":      true,
		"typosquat":      true,
		"popularity":     true,
		"install_script": true,
		"advisory":       true,
	}
}

func (p *Provider) LockfileParser() (core.LockfileParser, bool) {
	return lockfileParser{}, true
}

// sortVersionsDescending orders known_versions newest first using the
// semver-aware comparator, matching PackageMetadata's documented ordering.
func sortVersionsDescending(versions []string) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && core.CompareVersions(versions[j-1], versions[j]) < 0; j-- {
			versions[j-1], versions[j] = versions[j], versions[j-1]
		}
	}
}
