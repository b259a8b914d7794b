package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by InitConfigToPath when the file exists and
// force is not set.
var ErrConfigExists = errors.New("configuration file already exists")

const configHeader = `# flashwear configuration file
#
# Every key can be overridden with an environment variable: upper-case the
# dotted path, replace dots with underscores and prefix FLASHWEAR_, e.g.
# FLASHWEAR_LOGGING_LEVEL=DEBUG or FLASHWEAR_API_JWT_SECRET=...
#
# Generated by 'flashwear init'.

`

// InitConfig writes a default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration with a freshly generated
// JWT secret to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
		}
	}

	cfg := GetDefaultConfig()
	secret, err := GenerateSecret()
	if err != nil {
		return err
	}
	cfg.API.JWT.Secret = secret

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

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
