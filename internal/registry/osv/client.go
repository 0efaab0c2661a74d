// Package osv implements the advisory provider contract against OSV.dev.
package osv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/saferun/safe-pkgs/internal/core"
)

const defaultAPIURL = "https://api.osv.dev/v1/query"

// ecosystemNames maps an internal registry key to the OSV ecosystem string.
var ecosystemNames = map[string]string{
	"npm":   "npm",
	"cargo": "crates.io",
	"pypi":  "PyPI",
}

// Client is the OSV.dev advisory provider.
type Client struct {
	http   *http.Client
	apiURL string
}

func New(client *http.Client) *Client {
	apiURL := os.Getenv("SAFE_PKGS_OSV_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{http: client, apiURL: apiURL}
}

type queryRequest struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Version string `json:"version"`
}

type queryResponse struct {
	Vulns []vulnerability `json:"vulns"`
}

type vulnerability struct {
	ID               string            `json:"id"`
	Summary          string            `json:"summary"`
	Aliases          []string          `json:"aliases"`
	Severity         []severityEntry   `json:"severity"`
	DatabaseSpecific *databaseSpecific `json:"database_specific"`
	Affected         []affected        `json:"affected"`
}

type severityEntry struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type databaseSpecific struct {
	Severity string `json:"severity"`
}

type affected struct {
	Ranges []vrange `json:"ranges"`
}

type vrange struct {
	Events []event `json:"events"`
}

type event struct {
	Fixed string `json:"fixed"`
}

func (v vulnerability) fixedVersions() []string {
	var out []string
	for _, a := range v.Affected {
		for _, r := range a.Ranges {
			for _, e := range r.Events {
				if e.Fixed != "" {
					out = append(out, e.Fixed)
				}
			}
		}
	}
	return out
}

// severity maps OSV's database_specific.severity (when present) onto the
// four-level lattice; absent severity data defaults to high, matching the
// original implementation's always-high advisory handling.
func (v vulnerability) severity() core.Severity {
	if v.DatabaseSpecific != nil {
		switch strings.ToUpper(v.DatabaseSpecific.Severity) {
		case "LOW":
			return core.SeverityLow
		case "MODERATE", "MEDIUM":
			return core.SeverityMedium
		case "HIGH":
			return core.SeverityHigh
		case "CRITICAL":
			return core.SeverityCritical
		}
	}
	return core.SeverityHigh
}

// FetchAdvisories queries OSV.dev for one (registry, name, version).
func (c *Client) FetchAdvisories(ctx context.Context, registryKey, name, version string) ([]core.Advisory, error) {
	ecosystem, ok := ecosystemNames[registryKey]
	if !ok {
		return nil, &core.RegistryError{Kind: core.RegistryErrUnsupported, Op: "osv.fetch_advisories", Err: fmt.Errorf("unknown registry %q", registryKey)}
	}

	var body queryRequest
	body.Package.Name = name
	body.Package.Ecosystem = ecosystem
	body.Version = version

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "osv.fetch_advisories", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "osv.fetch_advisories", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "osv.fetch_advisories", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &core.RegistryError{Kind: core.RegistryErrRateLimited, Op: "osv.fetch_advisories", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &core.RegistryError{Kind: core.RegistryErrNetwork, Op: "osv.fetch_advisories", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &core.RegistryError{Kind: core.RegistryErrMalformed, Op: "osv.fetch_advisories", Err: err}
	}

	advisories := make([]core.Advisory, 0, len(parsed.Vulns))
	for _, v := range parsed.Vulns {
		advisories = append(advisories, core.Advisory{
			ID:             v.ID,
			Severity:       v.severity(),
			Summary:        v.Summary,
			AffectedRanges: v.Aliases,
			FixedVersions:  v.fixedVersions(),
		})
	}
	return advisories, nil
}
