package pypi

import "testing"

func TestParseRequirementsFile(t *testing.T) {
	data := []byte(`
# comment line
requests==2.31.0
Flask>=2.0  # trailing comment
numpy ; python_version < "3.9"
-e ./local-pkg
SomePkg[extra]==1.0
`)
	refs, err := parseRequirementsFile(data)
	if err != nil {
		t.Fatalf("parseRequirementsFile: %v", err)
	}
	names := map[string]string{}
	for _, r := range refs {
		names[r.Name] = r.Version
	}
	if v, ok := names["requests"]; !ok || v != "2.31.0" {
		t.Errorf("expected requests==2.31.0, got %+v", names)
	}
	if _, ok := names["flask"]; !ok {
		t.Errorf("expected flask present with no exact version (range operator), got %+v", names)
	}
	if names["flask"] != "" {
		t.Errorf(">= should not produce an exact version, got %q", names["flask"])
	}
	if _, ok := names["numpy"]; !ok {
		t.Errorf("bare name with marker stripped should still be captured, got %+v", names)
	}
	if _, ok := names["somepkg"]; !ok {
		t.Errorf("extras should be stripped and name lowercased, got %+v", names)
	}
}

func TestParsePyprojectManifest_PEP621AndPoetry(t *testing.T) {
	data := []byte(`
[project]
dependencies = ["requests==2.31.0", "click>=8.0"]

[project.optional-dependencies]
dev = ["pytest==7.0.0"]

[tool.poetry.dependencies]
python = "^3.9"
numpy = "1.26.0"

[tool.poetry.group.test.dependencies]
coverage = { version = "7.0.0" }
`)
	refs, err := parsePyprojectManifest(data)
	if err != nil {
		t.Fatalf("parsePyprojectManifest: %v", err)
	}
	names := map[string]string{}
	for _, r := range refs {
		names[r.Name] = r.Version
	}
	if _, ok := names["python"]; ok {
		t.Errorf("python pseudo-dependency should be skipped, got %+v", names)
	}
	if v, ok := names["requests"]; !ok || v != "2.31.0" {
		t.Errorf("expected requests==2.31.0, got %+v", names)
	}
	if _, ok := names["pytest"]; !ok {
		t.Errorf("optional-dependencies groups should be walked, got %+v", names)
	}
	if v, ok := names["numpy"]; !ok || v != "1.26.0" {
		t.Errorf("expected poetry numpy=1.26.0, got %+v", names)
	}
	if v, ok := names["coverage"]; !ok || v != "7.0.0" {
		t.Errorf("expected poetry group table-form dependency, got %+v", names)
	}
}

func TestNormalizePythonPackageName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Requests", "requests"},
		{"some_package", "some-package"},
		{"some.Package[extra]", "some-package"},
		{"../evil", ""},
	}
	for _, tt := range tests {
		if got := normalizePythonPackageName(tt.in); got != tt.want {
			t.Errorf("normalizePythonPackageName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
