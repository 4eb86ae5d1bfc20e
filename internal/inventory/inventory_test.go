package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pluginpm/internal/envloc"
	"pluginpm/internal/requirement"
)

func writeDist(t *testing.T, root, name, version string, extraHeaders ...string) string {
	t.Helper()
	dir := filepath.Join(root, "lib", "python3.11", "site-packages", name+"-"+version+".dist-info")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	b.WriteString("Metadata-Version: 2.1\n")
	b.WriteString("Name: " + name + "\n")
	b.WriteString("Version: " + version + "\n")
	for _, h := range extraHeaders {
		b.WriteString(h + "\n")
	}
	b.WriteString("\n# " + name + "\n\nLong description: not a header.\n")
	if err := os.WriteFile(filepath.Join(dir, "METADATA"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestParseMetadata(t *testing.T) {
	in := strings.Join([]string{
		"Metadata-Version: 2.1",
		"Name: poetry",
		"Version: 1.2.0",
		"Summary: Python dependency management and packaging made easy.",
		"Author: Sébastien Eustace",
		"Author-email: sebastien@eustace.io",
		"Requires-Python: >=3.7,<4.0",
		"Requires-Dist: click (>=7.0)",
		"Requires-Dist: cachecontrol[filecache] (>=0.12.9,<0.13.0)",
		"Requires-Dist: pytest ; extra == \"test\"",
		"",
		"Body text",
	}, "\n")
	pkg, err := ParseMetadata(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pkg.Name != "poetry" || pkg.Version != "1.2.0" {
		t.Fatalf("unexpected identity %q %q", pkg.Name, pkg.Version)
	}
	if len(pkg.Authors) != 1 || pkg.Authors[0] != "Sébastien Eustace <sebastien@eustace.io>" {
		t.Fatalf("unexpected authors %v", pkg.Authors)
	}
	if len(pkg.Requires) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(pkg.Requires))
	}
	if pkg.Requires[1].Name != "cachecontrol" || pkg.Requires[1].Extras[0] != "filecache" {
		t.Fatalf("unexpected requirement %+v", pkg.Requires[1])
	}
}

func TestParseMetadataRequiresIdentity(t *testing.T) {
	if _, err := ParseMetadata(strings.NewReader("Metadata-Version: 2.1\nName: x\n")); err == nil {
		t.Fatal("expected error for missing version")
	}
}

func TestReadDistInfoDirectURL(t *testing.T) {
	root := t.TempDir()
	dir := writeDist(t, root, "demo_plugin", "0.1.0")
	blob := `{"url": "https://github.com/acme/demo.git", "vcs_info": {"vcs": "git", "commit_id": "abc123"}}`
	if err := os.WriteFile(filepath.Join(dir, "direct_url.json"), []byte(blob), 0o644); err != nil {
		t.Fatal(err)
	}
	pkg, err := ReadDistInfo(dir)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if pkg.Source == nil || pkg.Source.Type != "git" || pkg.Source.Reference != "abc123" {
		t.Fatalf("unexpected source %+v", pkg.Source)
	}
}

func TestBuildSplitsRootAndRepository(t *testing.T) {
	pkgs := []Package{
		{Name: "pip", Version: "23.0"},
		{Name: "Poetry", Version: "1.2.0", Summary: "pm", Requires: mustReqs(t, "click>=7.0", "pytest ; extra == 'test'")},
		{Name: "requests", Version: "2.31.0"},
		{Name: "Click", Version: "8.1.0"},
	}
	inv, err := Build(pkgs, "poetry", NewUnsafeSet("setuptools", "distribute", "pip", "wheel"), "3.11.4")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if inv.Root.Name != "Poetry" || inv.Root.Version != "1.2.0" || inv.Root.PythonVersions != "3.11.4" {
		t.Fatalf("unexpected root %+v", inv.Root)
	}
	if len(inv.Root.Requires) != 1 || inv.Root.Requires[0].Name != "click" {
		t.Fatalf("expected only mandatory requirements, got %+v", inv.Root.Requires)
	}
	if inv.Repository.Len() != 2 {
		t.Fatalf("expected 2 repository packages, got %d", inv.Repository.Len())
	}
	if _, ok := inv.Repository.Find("pip"); ok {
		t.Fatal("unsafe package must not enter the repository")
	}
	if _, ok := inv.Repository.Find("poetry"); ok {
		t.Fatal("root package must not enter the repository")
	}
	if p, ok := inv.Repository.Find("click"); !ok || p.Version != "8.1.0" {
		t.Fatalf("expected case-insensitive lookup of click, got %+v %v", p, ok)
	}
}

func TestBuildRootMissing(t *testing.T) {
	_, err := Build([]Package{{Name: "requests", Version: "2.0"}}, "poetry", NewUnsafeSet(), "3.11.4")
	var missing *RootMissingError
	if !errors.As(err, &missing) || missing.Name != "poetry" {
		t.Fatalf("expected RootMissingError, got %v", err)
	}
}

func TestBuildUnsafeRootIsSkipped(t *testing.T) {
	_, err := Build([]Package{{Name: "pip", Version: "23.0"}}, "pip", NewUnsafeSet("pip"), "3.11.4")
	var missing *RootMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("unsafe package must never become the root, got %v", err)
	}
}

func TestLoaderScansEnvironment(t *testing.T) {
	root := t.TempDir()
	writeDist(t, root, "poetry", "1.2.0", "Requires-Dist: click (>=7.0)")
	writeDist(t, root, "requests", "2.31.0")
	writeDist(t, root, "setuptools", "68.0.0")

	env := &envloc.Environment{Root: root, Python: envloc.PythonVersion{Major: 3, Minor: 11, Patch: 4}}
	loader := &Loader{RootName: "poetry", Unsafe: NewUnsafeSet("setuptools", "distribute", "pip", "wheel")}
	inv, err := loader.Load(env)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if inv.Root.PythonVersions != "3.11.4" {
		t.Fatalf("unexpected python constraint %q", inv.Root.PythonVersions)
	}
	if inv.Repository.Len() != 1 {
		t.Fatalf("expected only requests in repository, got %d", inv.Repository.Len())
	}

	empty := t.TempDir()
	_, err = loader.Load(&envloc.Environment{Root: empty})
	var missing *RootMissingError
	if !errors.As(err, &missing) || missing.Root != empty {
		t.Fatalf("expected RootMissingError for %s, got %v", empty, err)
	}
}

func TestUnsafeSetCanonical(t *testing.T) {
	s := NewUnsafeSet("SetupTools", "pip")
	if !s.Contains("setuptools") || !s.Contains("PIP") {
		t.Fatal("expected canonical membership")
	}
	if got := s.Names(); len(got) != 2 || got[0] != "pip" {
		t.Fatalf("unexpected names %v", got)
	}
}

func mustReqs(t *testing.T, raw ...string) []requirement.Requirement {
	t.Helper()
	out := make([]requirement.Requirement, 0, len(raw))
	for _, r := range raw {
		req, err := requirement.Parse(r)
		if err != nil {
			t.Fatalf("parse %q: %v", r, err)
		}
		out = append(out, req)
	}
	return out
}
