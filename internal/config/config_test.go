package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Manager.RootPackage != "poetry" || cfg.Manager.ManifestFile != "pyproject.toml" {
		t.Fatalf("unexpected manager defaults %+v", cfg.Manager)
	}
	if strings.Join(cfg.Manager.UnsafePackages, ",") != "setuptools,distribute,pip,wheel" {
		t.Fatalf("unexpected unsafe packages %v", cfg.Manager.UnsafePackages)
	}
	if cfg.Index.TimeoutDuration() != 30*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Index.TimeoutDuration())
	}
}

func TestEnsureCreatesAndLoadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Ensure(path)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if cfg.Version != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, cfg.Version)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file should exist: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Index.URL != "https://pypi.org/pypi" {
		t.Fatalf("unexpected index url %q", loaded.Index.URL)
	}
}

func TestLoadFillsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n[index]\nurl = \"https://mirror.example/pypi/\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Index.URL != "https://mirror.example/pypi" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Index.URL)
	}
	if cfg.Manager.RootPackage != "poetry" || cfg.Index.Concurrency != 4 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"parse":       "version = \n",
		"version":     "version = 2\n",
		"index url":   "version = 1\n[index]\nurl = \"ftp://x\"\n",
		"timeout":     "version = 1\n[index]\ntimeout = \"soon\"\n",
		"concurrency": "version = 1\n[index]\nconcurrency = 500\n",
		"log level":   "version = 1\n[logging]\nlevel = \"loud\"\n",
		"unsafe root": "version = 1\n[manager]\nunsafe_packages = [\"Poetry\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRejectsUnknownSetting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n[index]\nconcurency = 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.HasPrefix(err.Error(), "DOC_CONFIG_PARSE: unknown setting") || !strings.Contains(err.Error(), "concurency") {
		t.Fatalf("expected unknown setting error, got %v", err)
	}
}

func TestSaveWritesHeaderAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Index.Concurrency = 7
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "# pluginpm settings.") {
		t.Fatalf("missing header:\n%s", raw)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Index.Concurrency != 7 {
		t.Fatalf("unexpected concurrency %d", loaded.Index.Concurrency)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); !errors.Is(err, os.ErrNotExist) || !strings.HasPrefix(err.Error(), "DOC_CONFIG_READ:") {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
}

func TestNormalizeDedupesUnsafePackages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Manager.UnsafePackages = []string{"pip", " ", "PIP", "Setup_Tools", "setup-tools"}
	cfg = Normalize(cfg)
	if got := strings.Join(cfg.Manager.UnsafePackages, ","); got != "pip,Setup_Tools" {
		t.Fatalf("unexpected unsafe packages %q", got)
	}
}

func TestApplyEnv(t *testing.T) {
	o, err := ParseEnvFrom(map[string]string{
		"POETRY_HOME":              "/opt/poetry",
		"PLUGINPM_INDEX_URL":       "https://mirror.example/simple-json",
		"PLUGINPM_LOG_LEVEL":       "DEBUG",
		"PLUGINPM_UNSAFE_PACKAGES": "pip,wheel",
	})
	if err != nil {
		t.Fatalf("parse env failed: %v", err)
	}
	cfg, err := ApplyEnv(DefaultConfig(), o)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if cfg.Manager.Home != "/opt/poetry" || cfg.Index.URL != "https://mirror.example/simple-json" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized level, got %q", cfg.Logging.Level)
	}
	if strings.Join(cfg.Manager.UnsafePackages, ",") != "pip,wheel" {
		t.Fatalf("unexpected unsafe packages %v", cfg.Manager.UnsafePackages)
	}

	empty, err := ParseEnvFrom(map[string]string{})
	if err != nil {
		t.Fatal(err)
	}
	cfg, err = ApplyEnv(DefaultConfig(), empty)
	if err != nil || cfg.Manager.Home != "" {
		t.Fatalf("empty overrides should be a no-op: %+v %v", cfg.Manager, err)
	}

	bad, _ := ParseEnvFrom(map[string]string{"PLUGINPM_INDEX_URL": "not a url"})
	if _, err := ApplyEnv(DefaultConfig(), bad); err == nil {
		t.Fatal("expected invalid override to fail validation")
	}
}

func TestSetAndGet(t *testing.T) {
	cfg := DefaultConfig()
	if err := Set(&cfg, "index.concurrency", "8"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if got, _ := Get(cfg, "index.concurrency"); got != "8" {
		t.Fatalf("unexpected value %q", got)
	}
	if err := Set(&cfg, "Index.Allow_Prereleases", "true"); err != nil || !cfg.Index.AllowPrereleases {
		t.Fatalf("bool set failed: %v", err)
	}
	if err := Set(&cfg, "manager.unsafe_packages", "pip, wheel"); err != nil {
		t.Fatalf("list set failed: %v", err)
	}
	if got, _ := Get(cfg, "manager.unsafe_packages"); got != "pip,wheel" {
		t.Fatalf("unexpected list %q", got)
	}
}

func TestSetRejectsAndKeepsConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := Set(&cfg, "index.concurrency", "zero"); err == nil {
		t.Fatal("expected parse error")
	}
	if err := Set(&cfg, "index.concurrency", "0"); err != nil {
		t.Fatalf("zero normalizes to default: %v", err)
	}
	if err := Set(&cfg, "index.concurrency", "-1"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Index.Concurrency != 4 {
		t.Fatalf("config changed after failed set: %d", cfg.Index.Concurrency)
	}
	if err := Set(&cfg, "nope", "x"); err == nil || !strings.Contains(err.Error(), "DOC_CONFIG_KEY") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
	if _, err := Get(cfg, "nope"); err == nil {
		t.Fatal("expected unknown key error")
	}
	if len(Keys()) != len(accessors) {
		t.Fatal("keys should list every accessor")
	}
}

func TestUnknownKeySuggestsClosest(t *testing.T) {
	_, err := Get(DefaultConfig(), "index.concurency")
	if err == nil || !strings.Contains(err.Error(), `did you mean "index.concurrency"`) {
		t.Fatalf("expected suggestion, got %v", err)
	}
	_, err = Get(DefaultConfig(), "zzzz")
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("expected plain unknown key error, got %v", err)
	}
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Root = filepath.Join(t.TempDir(), "state")
	path, err := AuditPath(cfg)
	if err != nil {
		t.Fatalf("audit path failed: %v", err)
	}
	if path != filepath.Join(cfg.Storage.Root, "audit.log") {
		t.Fatalf("unexpected audit path %q", path)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		got, err := ExpandPath("~/x")
		if err != nil || got != filepath.Join(home, "x") {
			t.Fatalf("unexpected expansion %q %v", got, err)
		}
	}
	if _, err := ExpandPath(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
