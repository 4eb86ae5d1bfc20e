package config

import (
	"fmt"
	"net/url"
	"time"

	"pluginpm/internal/requirement"
)

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
	"fatal": {},
}

var allowedLogFormats = map[string]struct{}{
	"text":   {},
	"json":   {},
	"logfmt": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if cfg.Manager.RootPackage == "" {
		return fmt.Errorf("DOC_CONFIG_MANAGER: missing root package")
	}
	if cfg.Manager.ManifestFile == "" {
		return fmt.Errorf("DOC_CONFIG_MANAGER: missing manifest file name")
	}
	for _, n := range cfg.Manager.UnsafePackages {
		if requirement.SameName(n, cfg.Manager.RootPackage) {
			return fmt.Errorf("DOC_CONFIG_MANAGER: root package %q cannot be unsafe", n)
		}
	}
	u, err := url.Parse(cfg.Index.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DOC_CONFIG_INDEX: invalid index url %q", cfg.Index.URL)
	}
	if d, err := time.ParseDuration(cfg.Index.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("DOC_CONFIG_INDEX: invalid timeout %q", cfg.Index.Timeout)
	}
	if cfg.Index.Concurrency < 1 || cfg.Index.Concurrency > 64 {
		return fmt.Errorf("DOC_CONFIG_INDEX: concurrency must be between 1 and 64, got %d", cfg.Index.Concurrency)
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing storage root")
	}
	if cfg.Logging.Level == "" || cfg.Logging.Format == "" {
		return fmt.Errorf("DOC_CONFIG_LOGGING: missing logging level/format")
	}
	if _, ok := allowedLogLevels[cfg.Logging.Level]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid level %q", cfg.Logging.Level)
	}
	if _, ok := allowedLogFormats[cfg.Logging.Format]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid format %q", cfg.Logging.Format)
	}
	return nil
}
