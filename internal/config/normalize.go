package config

import (
	"strings"

	"pluginpm/internal/requirement"
)

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Manager.RootPackage == "" {
		cfg.Manager.RootPackage = defaultRootPackage
	}
	if cfg.Manager.ManifestFile == "" {
		cfg.Manager.ManifestFile = defaultManifestFile
	}
	if cfg.Manager.UnsafePackages == nil {
		cfg.Manager.UnsafePackages = append([]string(nil), DefaultUnsafePackages...)
	}
	cfg.Manager.UnsafePackages = dedupeNames(cfg.Manager.UnsafePackages)
	if cfg.Index.URL == "" {
		cfg.Index.URL = defaultIndexURL
	}
	cfg.Index.URL = strings.TrimRight(cfg.Index.URL, "/")
	if cfg.Index.Timeout == "" {
		cfg.Index.Timeout = defaultIndexTimeout.String()
	}
	if cfg.Index.Concurrency == 0 {
		cfg.Index.Concurrency = defaultConcurrency
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = defaultStorageRoot
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	return cfg
}

// dedupeNames drops blanks and canonical duplicates, keeping first spelling.
func dedupeNames(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]struct{}{}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := requirement.Canonical(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
