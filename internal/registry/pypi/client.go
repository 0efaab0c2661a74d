// Package pypi implements the registry provider contract for the Python
// Package Index.
package pypi

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

const (
	defaultPackageAPIBaseURL = "https://pypi.org/pypi"
	defaultDownloadsBaseURL  = "https://pypistats.org/api/packages"
	userAgent                = "safe-pkgs/1.0"
)

// Provider is the PyPI registry backend.
type Provider struct {
	http             *http.Client
	packageAPIBaseURL string
	downloadsBaseURL  string
}

func New(client *http.Client) *Provider {
	pkgBase := os.Getenv("SAFE_PKGS_PYPI_PACKAGE_API_BASE_URL")
	if pkgBase == "" {
		pkgBase = defaultPackageAPIBaseURL
	}
	downloads := os.Getenv("SAFE_PKGS_PYPI_DOWNLOADS_API_BASE_URL")
	if downloads == "" {
		downloads = defaultDownloadsBaseURL
	}
	return &Provider{http: client, packageAPIBaseURL: strings.TrimRight(pkgBase, "/"), downloadsBaseURL: strings.TrimRight(downloads, "/")}
}

func (p *Provider) Key() string { return "pypi" }

type releaseFile struct {
	UploadTimeISO8601 string `json:"upload_time_iso_8601"`
	Yanked            bool   `json:"yanked"`
}

type packageInfo struct {
	Version  string `json:"version"`
	Author   string `json:"author"`
	Maintainer string `json:"maintainer"`
}

type packageResponse struct {
	Info     packageInfo                `json:"info"`
	Releases map[string][]releaseFile   `json:"releases"`
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
	reqURL := fmt.Sprintf("%s/%s/json", p.packageAPIBaseURL, name)
	resp, err := p.doGet(ctx, "pypi.fetch_metadata", reqURL)
	if err != nil {
		return core.PackageMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.PackageMetadata{Exists: false, RequestedVersion: version}, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrRateLimited, Op: "pypi.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "pypi.fetch_metadata", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body packageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "pypi.fetch_metadata", Err: err}
	}
	latest := strings.TrimSpace(body.Info.Version)
	if latest == "" {
		return core.PackageMetadata{}, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "pypi.fetch_metadata", Err: fmt.Errorf("missing package latest version")}
	}

	known := make([]string, 0, len(body.Releases))
	var publishedAt map[string]*time.Time = map[string]*time.Time{}
	var deprecated map[string]bool = map[string]bool{}
	for v, files := range body.Releases {
		known = append(known, v)
		var earliest *time.Time
		allYanked := len(files) > 0
		for _, f := range files {
			if !f.Yanked {
				allYanked = false
			}
			if f.UploadTimeISO8601 == "" {
				continue
			}
			if t, err := time.Parse(time.RFC3339, f.UploadTimeISO8601); err == nil {
				if earliest == nil || t.Before(*earliest) {
					earliest = &t
				}
			}
		}
		publishedAt[v] = earliest
		deprecated[v] = allYanked
	}
	if _, ok := publishedAt[latest]; !ok {
		known = append(known, latest)
	}
	sortVersionsDescending(known)

	resolved := version
	if resolved == "" {
		resolved = latest
	}

	publishers := []string{}
	if body.Info.Author != "" {
		publishers = append(publishers, body.Info.Author)
	}
	if body.Info.Maintainer != "" && body.Info.Maintainer != body.Info.Author {
		publishers = append(publishers, body.Info.Maintainer)
	}

	meta := core.PackageMetadata{
		Exists:           true,
		LatestVersion:    latest,
		RequestedVersion: resolved,
		KnownVersions:    known,
		Publishers:       publishers,
		HasInstallScript: core.TristateFalse, // pip wheels/sdists have no npm-style lifecycle hook
		PublishedAt:      publishedAt[resolved],
		Deprecated:       deprecated[resolved],
	}
	return meta, nil
}

type statsResponse struct {
	Data struct {
		LastWeek *uint64 `json:"last_week"`
	} `json:"data"`
}

func (p *Provider) FetchDownloads(ctx context.Context, name string) (uint64, bool, error) {
	reqURL := fmt.Sprintf("%s/%s/recent", p.downloadsBaseURL, name)
	resp, err := p.doGet(ctx, "pypi.fetch_downloads", reqURL)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "pypi.fetch_downloads", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, false, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "pypi.fetch_downloads", Err: err}
	}
	if body.Data.LastWeek == nil {
		return 0, false, nil
	}
	return *body.Data.LastWeek, true, nil
}

// FetchInstallScriptFlag always reports false: PyPI distributions run
// setup.py at build time under pip's control, not an opaque lifecycle hook
// comparable to npm's, so the install_script check is marked unsupported for
// this registry instead.
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
