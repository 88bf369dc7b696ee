package config

import (
	"fmt"
	"os"

	kdl "github.com/sblinch/kdl-go"
)

// LoadKDL reads and decodes a KDL document at path into a Config,
// applying defaults for anything left unset. A missing file is not an
// error: Default() is returned unchanged so first-run behaves
// sensibly without requiring an install-time config file.
func LoadKDL(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	if err := kdl.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// SaveKDL serializes cfg and writes it to path. It does not create
// missing parent directories.
func SaveKDL(path string, cfg *Config) error {
	data, err := kdl.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
