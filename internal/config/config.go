// Package config manages amvc configuration and the .amvc directory
// structure. It handles loading, saving, and initializing the workspace
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	AMVCDir      = ".amvc"
	ConfigFile   = "config"
	DatabaseFile = "amvc.db"
	TokenDBFile  = "tokens.db"
)

// Config represents the amvc configuration
type Config struct {
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`  // debug, info, warn, error
	LogFormat  string `toml:"log_format"` // text or json
	path       string // path to .amvc directory
}

// FindRoot finds the .amvc directory by walking up from the current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		amvcPath := filepath.Join(dir, AMVCDir)
		if info, err := os.Stat(amvcPath); err == nil && info.IsDir() {
			return amvcPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not an amvc workspace (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .amvc directory
func Load() (*Config, error) {
	amvcPath, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(amvcPath)
}

// LoadFrom loads the configuration from an explicit .amvc directory.
func LoadFrom(amvcPath string) (*Config, error) {
	configPath := filepath.Join(amvcPath, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = amvcPath
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8580"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Path returns the path to the .amvc directory
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the sqlite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// TokenDBPath returns the path to the bbolt token database
func (c *Config) TokenDBPath() string {
	return filepath.Join(c.path, TokenDBFile)
}

// Initialize creates a new .amvc directory with initial configuration
func Initialize(listenAddr string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	amvcPath := filepath.Join(cwd, AMVCDir)

	// Check if already initialized
	if _, err := os.Stat(amvcPath); err == nil {
		return nil, fmt.Errorf("amvc workspace already exists")
	}

	if err := os.MkdirAll(amvcPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .amvc directory: %w", err)
	}

	cfg := &Config{
		ListenAddr: listenAddr,
		path:       amvcPath,
	}
	cfg.applyDefaults()

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(amvcPath)
		return nil, err
	}

	return cfg, nil
}
