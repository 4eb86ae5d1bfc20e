package config

// Build metadata, set with -ldflags "-X pluginpm/internal/config.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
