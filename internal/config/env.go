package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are the environment variables that take precedence over the
// config file.
type EnvOverrides struct {
	Home           string   `env:"POETRY_HOME"`
	ConfigPath     string   `env:"PLUGINPM_CONFIG"`
	Executable     string   `env:"PLUGINPM_MANAGER"`
	IndexURL       string   `env:"PLUGINPM_INDEX_URL"`
	LogLevel       string   `env:"PLUGINPM_LOG_LEVEL"`
	UnsafePackages []string `env:"PLUGINPM_UNSAFE_PACKAGES" envSeparator:","`
}

// ParseEnv reads overrides from the process environment.
func ParseEnv() (EnvOverrides, error) {
	return parseEnv(env.Options{})
}

// ParseEnvFrom reads overrides from vars instead of the process environment.
func ParseEnvFrom(vars map[string]string) (EnvOverrides, error) {
	return parseEnv(env.Options{Environment: vars})
}

func parseEnv(opts env.Options) (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return EnvOverrides{}, fmt.Errorf("DOC_CONFIG_ENV: %w", err)
	}
	return o, nil
}

// ApplyEnv layers non-empty overrides onto cfg and re-validates it.
func ApplyEnv(cfg Config, o EnvOverrides) (Config, error) {
	if o.Home != "" {
		cfg.Manager.Home = o.Home
	}
	if o.Executable != "" {
		cfg.Manager.Executable = o.Executable
	}
	if o.IndexURL != "" {
		cfg.Index.URL = o.IndexURL
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if len(o.UnsafePackages) > 0 {
		cfg.Manager.UnsafePackages = o.UnsafePackages
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
