package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models teamline.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret         string   `yaml:"jwt_secret"`
		AllowLegacyHeader bool     `yaml:"allow_legacy_header"`
		BootstrapAdmins   []string `yaml:"bootstrap_admins"`
	} `yaml:"auth"`
	Data struct {
		Dir string `yaml:"dir"`
	} `yaml:"data"`
}

// Load reads and validates config from dir.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with tl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Auth.JWTSecret == "" && !c.Auth.AllowLegacyHeader {
		return fmt.Errorf("config.auth.jwt_secret is required unless allow_legacy_header is set")
	}
	for _, id := range c.Auth.BootstrapAdmins {
		if id == "" {
			return fmt.Errorf("config.auth.bootstrap_admins contains an empty actor id")
		}
	}
	return nil
}

// Path returns the config file path under dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "teamline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(adminID string) string {
	return fmt.Sprintf(defaultTemplate, adminID)
}

// Default returns the default Config struct.
func Default(adminID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, adminID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  listen: "127.0.0.1:8787"
  base_path: /api/v1

auth:
  jwt_secret: ""
  allow_legacy_header: true
  bootstrap_admins: [%s]

data:
  dir: .teamline
`
