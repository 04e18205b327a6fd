package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# mediarelay configuration file
#
# Every value can be overridden with an environment variable named after
# its path, e.g. MEDIARELAY_BOTAPI_TOKEN or MEDIARELAY_TRANSFER_MAX_CONCURRENT.
# Sizes accept units such as 48MiB or 512KiB; durations accept 30s, 5m, 1h.

`

// InitConfig writes a default configuration file at the default location.
// It refuses to overwrite an existing file unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file at path.
func InitConfigToPath(path string, force bool) error {
	return WriteConfig(path, GetDefaultConfig(), force)
}

// WriteConfig writes cfg with the explanatory header at path. It refuses to
// overwrite an existing file unless force is set.
func WriteConfig(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
