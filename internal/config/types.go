package config

import "time"

// Config is the v1 global schema.
type Config struct {
	Version int           `toml:"version"`
	Manager ManagerConfig `toml:"manager"`
	Index   IndexConfig   `toml:"index"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

// ManagerConfig describes the package manager whose global environment
// receives plugins.
type ManagerConfig struct {
	RootPackage    string   `toml:"root_package" json:"rootPackage"`
	Executable     string   `toml:"executable,omitempty" json:"executable,omitempty"`
	Home           string   `toml:"home,omitempty" json:"home,omitempty"`
	ManifestFile   string   `toml:"manifest_file" json:"manifestFile"`
	UnsafePackages []string `toml:"unsafe_packages" json:"unsafePackages"`
}

// IndexConfig points at the package index used to resolve bare names.
type IndexConfig struct {
	URL              string `toml:"url" json:"url"`
	Timeout          string `toml:"timeout" json:"timeout"`
	AllowPrereleases bool   `toml:"allow_prereleases" json:"allowPrereleases"`
	Concurrency      int    `toml:"concurrency" json:"concurrency"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TimeoutDuration parses Timeout; callers run it on validated configs.
func (c IndexConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultIndexTimeout
	}
	return d
}
