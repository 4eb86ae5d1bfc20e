package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"pluginpm/internal/fsutil"
)

const fileHeader = "# pluginpm settings. Edit with `pluginpm config set <key> <value>`.\n\n"

// Ensure loads the config at path, writing the defaults first when the file
// does not exist yet. An empty path means DefaultConfigPath.
func Ensure(path string) (Config, error) {
	path = orDefault(path)
	cfg, err := Load(path)
	switch {
	case err == nil:
		return cfg, nil
	case errors.Is(err, os.ErrNotExist):
		cfg = DefaultConfig()
		return cfg, Save(path, cfg)
	default:
		return Config{}, err
	}
}

// Load reads, normalizes and validates the config at path. Keys the schema
// does not know are rejected so that typos surface instead of being ignored.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(orDefault(path))
	if err != nil {
		return Config{}, fmt.Errorf("DOC_CONFIG_READ: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, err
	}
	cfg = Normalize(cfg)
	return cfg, Validate(cfg)
}

// Save normalizes cfg and replaces the file at path atomically.
func Save(path string, cfg Config) error {
	path = orDefault(path)
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	blob, err := encode(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("DOC_CONFIG_WRITE: %w", err)
	}
	if err := fsutil.AtomicWrite(path, blob, 0o644); err != nil {
		return fmt.Errorf("DOC_CONFIG_WRITE: %w", err)
	}
	return nil
}

func decode(data []byte) (Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: unknown setting\n%s", strict.String())
		}
		return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: %w", err)
	}
	return cfg, nil
}

func encode(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, fmt.Errorf("DOC_CONFIG_ENCODE: %w", err)
	}
	return buf.Bytes(), nil
}

func orDefault(path string) string {
	if path == "" {
		return DefaultConfigPath()
	}
	return path
}
