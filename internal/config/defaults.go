package config

import "time"

const (
	SchemaVersion = 1

	defaultRootPackage  = "poetry"
	defaultManifestFile = "pyproject.toml"
	defaultIndexURL     = "https://pypi.org/pypi"
	defaultIndexTimeout = 30 * time.Second
	defaultConcurrency  = 4
	defaultStorageRoot  = "~/.pluginpm"
)

// DefaultUnsafePackages are never treated as the root or placed in the
// installed repository.
var DefaultUnsafePackages = []string{"setuptools", "distribute", "pip", "wheel"}

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Manager: ManagerConfig{
			RootPackage:    defaultRootPackage,
			ManifestFile:   defaultManifestFile,
			UnsafePackages: append([]string(nil), DefaultUnsafePackages...),
		},
		Index: IndexConfig{
			URL:         defaultIndexURL,
			Timeout:     defaultIndexTimeout.String(),
			Concurrency: defaultConcurrency,
		},
		Storage: StorageConfig{
			Root: defaultStorageRoot,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
