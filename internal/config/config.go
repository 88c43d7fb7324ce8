package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvAdminToken   = "ADMIN_TOKEN"
	EnvTimezone     = "QUOTA_TIMEZONE"
)

// DefaultTimezone pins daily quota windows when the config omits a zone.
const DefaultTimezone = "America/Chicago"

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// RedisConfig holds the optional cooldown Redis backend settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// FileConfig mirrors the YAML configuration file.
type FileConfig struct {
	DatabaseDSN string `yaml:"database-dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	AdminToken string      `yaml:"admin-token"`
	Timezone   string      `yaml:"timezone"`
	Redis      RedisConfig `yaml:"redis"`
}

// Load reads the YAML config file, tolerating a missing file so env
// overrides alone can configure the service.
func Load(configPath string) (FileConfig, error) {
	var cfg FileConfig

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return FileConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return FileConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if token := strings.TrimSpace(os.Getenv(EnvAdminToken)); token != "" {
		cfg.AdminToken = token
	}
	if tz := strings.TrimSpace(os.Getenv(EnvTimezone)); tz != "" {
		cfg.Timezone = tz
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		cfg.Timezone = DefaultTimezone
	}
	return cfg, nil
}

// LoadDatabaseDSN reads the database DSN from the environment or config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	cfg, errLoad := Load(configPath)
	if errLoad != nil {
		return "", errLoad
	}
	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}
