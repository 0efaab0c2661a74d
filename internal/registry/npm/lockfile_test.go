package npm

import "testing"

func TestParsePackageLock_TopLevelDependencies(t *testing.T) {
	data := []byte(`{
		"dependencies": {
			"lodash": {"version": "4.17.21"},
			"left-pad": "1.0.0"
		}
	}`)
	refs, err := parsePackageLock(data)
	if err != nil {
		t.Fatalf("parsePackageLock: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 deps, got %d", len(refs))
	}
	byName := map[string]string{}
	for _, r := range refs {
		byName[r.Name] = r.Version
	}
	if byName["lodash"] != "4.17.21" || byName["left-pad"] != "1.0.0" {
		t.Errorf("got %+v", byName)
	}
}

func TestParsePackageLock_PackagesFallback(t *testing.T) {
	data := []byte(`{
		"packages": {
			"node_modules/left-pad": {"version": "1.0.0"},
			"node_modules/foo/node_modules/left-pad": {"version": "9.9.9"}
		}
	}`)
	refs, err := parsePackageLock(data)
	if err != nil {
		t.Fatalf("parsePackageLock: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != "left-pad" {
		t.Fatalf("expected single deduped left-pad entry, got %+v", refs)
	}
}

func TestParsePackageManifest_WalksAllSections(t *testing.T) {
	data := []byte(`{
		"dependencies": {"lodash": "^4.17.21"},
		"devDependencies": {"jest": "29.0.0"},
		"optionalDependencies": {"fsevents": "2.3.2"}
	}`)
	refs, err := parsePackageManifest(data)
	if err != nil {
		t.Fatalf("parsePackageManifest: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 deps, got %+v", refs)
	}
	for _, r := range refs {
		if r.Name == "lodash" && r.Version != "" {
			t.Errorf("range ^4.17.21 should normalize to latest (empty version), got %q", r.Version)
		}
		if r.Name == "jest" && r.Version != "29.0.0" {
			t.Errorf("exact version should survive normalization, got %q", r.Version)
		}
	}
}

func TestNormalizeRequestedVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1.2.3", "1.2.3"},
		{"=1.2.3", "1.2.3"},
		{"latest", ""},
		{"^1.2.3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeRequestedVersion(tt.in); got != tt.want {
			t.Errorf("normalizeRequestedVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
