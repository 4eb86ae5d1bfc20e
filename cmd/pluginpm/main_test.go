package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"pluginpm/internal/app"
	"pluginpm/internal/config"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()
	return buf.String()
}

func boolPtr(v bool) *bool { return &v }

func writeFile(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatal(err)
	}
}

// setupEnv points the process at a fake global environment and returns its
// root and a config path.
func setupEnv(t *testing.T, script string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script manager")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bin", "python"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(root, "pyvenv.cfg"), "version_info = 3.10.2\n", 0o644)
	writeFile(t, filepath.Join(root, "lib", "python3.10", "site-packages", "poetry-1.2.0.dist-info", "METADATA"),
		"Metadata-Version: 2.1\nName: poetry\nVersion: 1.2.0\n", 0o644)
	writeFile(t, filepath.Join(root, "bin", "poetry"), "#!/bin/sh\n"+script, 0o755)

	state := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = state
	cfgPath := filepath.Join(state, "config.toml")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POETRY_HOME", root)
	t.Setenv("PLUGINPM_MANAGER", "")
	t.Setenv("PLUGINPM_CONFIG", "")
	return root, cfgPath
}

func TestNewRootCmdIncludesCoreCommands(t *testing.T) {
	cmd := newRootCmd()
	got := map[string]bool{}
	for _, c := range cmd.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{"add", "env", "doctor", "history", "config", "version"} {
		if !got[want] {
			t.Fatalf("expected command %q", want)
		}
	}
}

func TestAddRequiresPluginsBeforeService(t *testing.T) {
	called := false
	cmd := newAddCmd(func() (*app.Service, error) {
		called = true
		return nil, errors.New("should not be called")
	}, boolPtr(false))
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected argument error")
	}
	if called {
		t.Fatal("newSvc should not be called without plugins")
	}
}

func TestNotifyExistingWording(t *testing.T) {
	out := captureStdout(t, func() { notifyExisting([]string{"mkdocs", "Poetry-Plugin-Export"}) })
	want := "The following plugins are already present in the pyproject.toml file and will be skipped:\n\n" +
		"  • mkdocs\n  • Poetry-Plugin-Export\n\n" +
		"If you want to update it to the latest compatible version, you can use `poetry plugin update package`.\n" +
		"If you prefer to upgrade it to the latest available version, you can use `poetry plugin add package@latest`.\n\n"
	if out != want {
		t.Fatalf("unexpected notification:\n%q", out)
	}
}

func TestAddCommandSkipsDeclaredPlugins(t *testing.T) {
	root, cfgPath := setupEnv(t, "echo manager-ran\n")
	writeFile(t, filepath.Join(root, "pyproject.toml"), "[tool.poetry.dependencies]\npython = \"^3.10\"\nmkdocs = \"^1.5\"\n", 0o644)

	var err error
	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"--config", cfgPath, "add", "MkDocs"})
		err = cmd.Execute()
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, "  • MkDocs") {
		t.Fatalf("expected notification, got %q", out)
	}
	if strings.Contains(out, "manager-ran") {
		t.Fatalf("manager must not run when nothing is new: %q", out)
	}
}

func TestAddCommandJSONAndExitCode(t *testing.T) {
	root, cfgPath := setupEnv(t, "exit 5\n")

	var err error
	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"--config", cfgPath, "--json", "add", "mkdocs@^1.5", "--dry-run"})
		err = cmd.Execute()
	})
	var ex ExitCoder
	if !errors.As(err, &ex) || ex.ExitCode() != 5 {
		t.Fatalf("expected exit 5, got %v", err)
	}
	var res struct {
		ExitCode    int      `json:"exitCode"`
		Added       []string `json:"added"`
		Synthesized bool     `json:"synthesized"`
		DryRun      bool     `json:"dryRun"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if res.ExitCode != 5 || !res.Synthesized || !res.DryRun || strings.Join(res.Added, ",") != "mkdocs" {
		t.Fatalf("unexpected result %+v", res)
	}
	raw, readErr := os.ReadFile(filepath.Join(root, "pyproject.toml"))
	if readErr != nil {
		t.Fatal(readErr)
	}
	if !strings.Contains(string(raw), `mkdocs = "^1.5"`) {
		t.Fatalf("manifest not merged:\n%s", raw)
	}
}

func TestAddCommandJSONKeepsManagerOutputOffStdout(t *testing.T) {
	_, cfgPath := setupEnv(t, "echo Updating dependencies\necho Resolving dependencies... >&2\n")

	var err error
	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"--config", cfgPath, "--json", "add", "mkdocs@^1.5"})
		err = cmd.Execute()
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if strings.Contains(out, "Updating dependencies") {
		t.Fatalf("manager output leaked into JSON: %q", out)
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if res["exitCode"] != float64(0) {
		t.Fatalf("unexpected result %v", res)
	}
}

func TestConfigCommands(t *testing.T) {
	_, cfgPath := setupEnv(t, "exit 0\n")
	run := func(args ...string) (string, error) {
		var err error
		out := captureStdout(t, func() {
			cmd := newRootCmd()
			cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
			err = cmd.Execute()
		})
		return out, err
	}
	if _, err := run("config", "set", "index.allow_prereleases", "true"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	out, err := run("config", "get", "index.allow_prereleases")
	if err != nil || strings.TrimSpace(out) != "true" {
		t.Fatalf("unexpected get %q %v", out, err)
	}
	out, err = run("config", "list")
	if err != nil || !strings.Contains(out, "manager.root_package = poetry") {
		t.Fatalf("unexpected list %q %v", out, err)
	}
	if _, err := run("config", "get", "nope"); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestVersionJSON(t *testing.T) {
	out := captureStdout(t, func() {
		cmd := newVersionCmd(boolPtr(true))
		cmd.SetArgs([]string{})
		if err := cmd.Execute(); err != nil {
			t.Errorf("version failed: %v", err)
		}
	})
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if info["version"] != config.Version {
		t.Fatalf("unexpected version %v", info)
	}
}
