package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
)

// Keys lists the settable config keys in dotted form.
func Keys() []string {
	keys := make([]string, 0, len(accessors))
	for k := range accessors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type accessor struct {
	get func(cfg Config) string
	set func(cfg *Config, value string) error
}

var accessors = map[string]accessor{
	"manager.root_package": {
		get: func(c Config) string { return c.Manager.RootPackage },
		set: func(c *Config, v string) error { c.Manager.RootPackage = v; return nil },
	},
	"manager.executable": {
		get: func(c Config) string { return c.Manager.Executable },
		set: func(c *Config, v string) error { c.Manager.Executable = v; return nil },
	},
	"manager.home": {
		get: func(c Config) string { return c.Manager.Home },
		set: func(c *Config, v string) error { c.Manager.Home = v; return nil },
	},
	"manager.manifest_file": {
		get: func(c Config) string { return c.Manager.ManifestFile },
		set: func(c *Config, v string) error { c.Manager.ManifestFile = v; return nil },
	},
	"manager.unsafe_packages": {
		get: func(c Config) string { return strings.Join(c.Manager.UnsafePackages, ",") },
		set: func(c *Config, v string) error {
			c.Manager.UnsafePackages = strings.Split(v, ",")
			return nil
		},
	},
	"index.url": {
		get: func(c Config) string { return c.Index.URL },
		set: func(c *Config, v string) error { c.Index.URL = v; return nil },
	},
	"index.timeout": {
		get: func(c Config) string { return c.Index.Timeout },
		set: func(c *Config, v string) error { c.Index.Timeout = v; return nil },
	},
	"index.allow_prereleases": {
		get: func(c Config) string { return strconv.FormatBool(c.Index.AllowPrereleases) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("expected true or false, got %q", v)
			}
			c.Index.AllowPrereleases = b
			return nil
		},
	},
	"index.concurrency": {
		get: func(c Config) string { return strconv.Itoa(c.Index.Concurrency) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("expected an integer, got %q", v)
			}
			c.Index.Concurrency = n
			return nil
		},
	},
	"storage.root": {
		get: func(c Config) string { return c.Storage.Root },
		set: func(c *Config, v string) error { c.Storage.Root = v; return nil },
	},
	"logging.level": {
		get: func(c Config) string { return c.Logging.Level },
		set: func(c *Config, v string) error { c.Logging.Level = v; return nil },
	},
	"logging.format": {
		get: func(c Config) string { return c.Logging.Format },
		set: func(c *Config, v string) error { c.Logging.Format = v; return nil },
	},
}

func lookup(key string) (accessor, error) {
	norm := strings.ToLower(strings.TrimSpace(key))
	if a, ok := accessors[norm]; ok {
		return a, nil
	}
	if matches := fuzzy.Find(norm, Keys()); len(matches) > 0 {
		return accessor{}, fmt.Errorf("DOC_CONFIG_KEY: unknown key %q (did you mean %q?)", key, matches[0].Str)
	}
	return accessor{}, fmt.Errorf("DOC_CONFIG_KEY: unknown key %q", key)
}

// Get returns the value of a dotted key.
func Get(cfg Config, key string) (string, error) {
	a, err := lookup(key)
	if err != nil {
		return "", err
	}
	return a.get(cfg), nil
}

// Set assigns a dotted key and re-validates. cfg is unchanged on error.
func Set(cfg *Config, key, value string) error {
	if cfg == nil {
		return fmt.Errorf("DOC_CONFIG_KEY: nil config")
	}
	a, err := lookup(key)
	if err != nil {
		return err
	}
	next := *cfg
	next.Manager.UnsafePackages = append([]string(nil), cfg.Manager.UnsafePackages...)
	if err := a.set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("DOC_CONFIG_KEY: %s: %w", key, err)
	}
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = next
	return nil
}
