// Package userconfig reads and writes the CLI profiles in
// ~/.config/flock/config.yaml.
package userconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	configDirName  = "flock"
	configFileName = "config.yaml"

	// PathEnv overrides the config file location
	PathEnv = "FLOCK_CONFIG"
)

// Profile is one Flock server the CLI can talk to
type Profile struct {
	Name   string `yaml:"name"`
	Server string `yaml:"server"`
	Email  string `yaml:"email,omitempty"`
}

// UserConfig represents the user's local configuration
type UserConfig struct {
	Current  string    `yaml:"current,omitempty"`
	Profiles []Profile `yaml:"profiles"`
}

// GetConfigPath returns the path to the user config file
func GetConfigPath() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", configDirName, configFileName), nil
}

// Load reads the user configuration file. A missing file is an empty config.
func Load() (*UserConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the configuration at path
func LoadFrom(path string) (*UserConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &UserConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}
	return &cfg, nil
}

// Save writes the user configuration to the default path
func Save(cfg *UserConfig) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(configPath, cfg)
}

// SaveTo writes the configuration to path
func SaveTo(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal user config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user config file: %w", err)
	}
	return nil
}

// Profile returns the profile with the given name
func (c *UserConfig) Profile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile '%s' not found", name)
}

// Upsert adds p or replaces the profile with the same name
func (c *UserConfig) Upsert(p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Server = strings.TrimRight(strings.TrimSpace(p.Server), "/")
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if !strings.HasPrefix(p.Server, "http://") && !strings.HasPrefix(p.Server, "https://") {
		return fmt.Errorf("server must be an http:// or https:// URL, got '%s'", p.Server)
	}
	for i := range c.Profiles {
		if c.Profiles[i].Name == p.Name {
			c.Profiles[i] = p
			return nil
		}
	}
	c.Profiles = append(c.Profiles, p)
	return nil
}

// Use makes name the current profile
func (c *UserConfig) Use(name string) error {
	if _, err := c.Profile(name); err != nil {
		return err
	}
	c.Current = name
	return nil
}
