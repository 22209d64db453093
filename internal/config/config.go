// Copyright 2026 The flowforge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for flowforge.
// It loads the YAML configuration file, applies defaults for absent keys and
// normalizes every section before the values reach the engines.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvDatabaseDSN    = "FLOWFORGE_DB_DSN"
	EnvDatabaseDriver = "FLOWFORGE_DB_DRIVER"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface the admin API binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`
	// Port is the admin API port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`
	// LogsDir is the directory for rotating log files.
	LogsDir string `yaml:"logs-dir" json:"logs-dir"`

	// Database selects the persistence backend.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Events configures the JSON-lines event log.
	Events EventsConfig `yaml:"events" json:"events"`

	// Router configures engine selection.
	Router RouterConfig `yaml:"router" json:"router"`

	// Providers registers OpenAI-compatible HTTP backends. An entry whose name
	// matches a built-in provider replaces the stub for that provider.
	Providers []ProviderConfig `yaml:"providers" json:"providers"`

	// Runtime configures flow retries.
	Runtime RuntimeConfig `yaml:"runtime" json:"runtime"`

	// Sandbox configures subprocess execution of generated code.
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`

	// Audit configures file mutation safety and rule packs.
	Audit AuditConfig `yaml:"audit" json:"audit"`

	// Blob configures the artifact version archive.
	Blob BlobConfig `yaml:"blob" json:"blob"`

	// Workspace configures industry presets.
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`
}

// DatabaseConfig selects the store implementation.
type DatabaseConfig struct {
	// Driver is "memory", "sqlite3" or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn" json:"-"`
}

// EventsConfig configures the rotating JSON-lines event log.
type EventsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	LogPath    string `yaml:"log-path" json:"log-path"`
	MaxSizeMB  int    `yaml:"max-size-mb" json:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups" json:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days" json:"max-age-days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// ProviderConfig describes an OpenAI-compatible chat completions endpoint.
type ProviderConfig struct {
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base-url" json:"base-url"`
	// APIKey is used verbatim when set.
	APIKey string `yaml:"api-key" json:"-"`
	// APIKeyEnv names an environment variable holding the key.
	APIKeyEnv string            `yaml:"api-key-env" json:"api-key-env"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	TimeoutMs int               `yaml:"timeout-ms" json:"timeout-ms"`
}

// ResolvedAPIKey returns the inline key or the value of APIKeyEnv.
func (p ProviderConfig) ResolvedAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// BlobConfig configures archiving of artifact version content.
type BlobConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Backend is "fs" or "minio".
	Backend   string `yaml:"backend" json:"backend"`
	Dir       string `yaml:"dir" json:"dir"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
	Region    string `yaml:"region" json:"region"`
}

// WorkspaceConfig configures workspace creation.
type WorkspaceConfig struct {
	// PresetsDir holds additional industry preset YAML files.
	PresetsDir string `yaml:"presets-dir" json:"presets-dir"`
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	cfg.Sanitize()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	cfg.Host = ""
	cfg.Port = 8417
	cfg.LogsDir = "logs"
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = "flowforge.db"
	cfg.Events.Enabled = true
	cfg.Events.LogPath = "./logs/events.log"
	cfg.Events.Compress = true
	cfg.Router.InternalProvider = "internal"
	cfg.Router.GenerationTimeoutMs = 120000
	cfg.Runtime.MaxRetries = 1
	cfg.Sandbox.TimeoutMs = 30000
	cfg.Sandbox.MaxConcurrent = 4
	cfg.Blob.Backend = "fs"
	cfg.Blob.Dir = "./data/artifacts"
}

// LoadConfig reads and parses the YAML configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns the defaults.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := Default()
			cfg.applyEnv()
			cfg.SanitizeDatabase()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg.applyDefaults()

	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.Sanitize()
	return &cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDriver)); v != "" {
		cfg.Database.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		cfg.Database.DSN = v
	}
}

// Sanitize normalizes every section in place.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = 8417
	}
	if strings.TrimSpace(cfg.LogsDir) == "" {
		cfg.LogsDir = "logs"
	}
	cfg.SanitizeDatabase()
	cfg.SanitizeEvents()
	cfg.SanitizeProviders()
	cfg.SanitizeRouter()
	cfg.SanitizeRuntime()
	cfg.SanitizeSandbox()
	cfg.SanitizeAudit()
	cfg.SanitizeBlob()
}

// SanitizeDatabase lower-cases the driver and maps aliases.
func (cfg *Config) SanitizeDatabase() {
	d := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch d {
	case "sqlite", "sqlite3":
		d = "sqlite3"
	case "postgres", "postgresql", "pgx":
		d = "pgx"
	case "memory", "mem":
		d = "memory"
	default:
		d = "sqlite3"
	}
	cfg.Database.Driver = d
	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)
	if cfg.Database.DSN == "" && d == "sqlite3" {
		cfg.Database.DSN = "flowforge.db"
	}
}

// SanitizeEvents applies rotation defaults.
func (cfg *Config) SanitizeEvents() {
	ev := &cfg.Events
	if strings.TrimSpace(ev.LogPath) == "" {
		ev.LogPath = "./logs/events.log"
	}
	if ev.MaxSizeMB <= 0 {
		ev.MaxSizeMB = 100
	}
	if ev.MaxBackups <= 0 {
		ev.MaxBackups = 10
	}
	if ev.MaxAgeDays <= 0 {
		ev.MaxAgeDays = 30
	}
}

// SanitizeProviders drops entries without a name or base-url and preserves the
// relative order of the remaining entries.
func (cfg *Config) SanitizeProviders() {
	out := cfg.Providers[:0]
	for _, p := range cfg.Providers {
		p.Name = strings.ToLower(strings.TrimSpace(p.Name))
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		if p.Name == "" || p.BaseURL == "" {
			continue
		}
		if p.TimeoutMs < 0 {
			p.TimeoutMs = 0
		}
		out = append(out, p)
	}
	cfg.Providers = out
}

// SanitizeBlob validates the archive backend.
func (cfg *Config) SanitizeBlob() {
	b := &cfg.Blob
	b.Backend = strings.ToLower(strings.TrimSpace(b.Backend))
	if b.Backend != "fs" && b.Backend != "minio" {
		b.Backend = "fs"
	}
	if b.Backend == "fs" && strings.TrimSpace(b.Dir) == "" {
		b.Dir = "./data/artifacts"
	}
	if b.Backend == "minio" && (b.Endpoint == "" || b.Bucket == "") {
		b.Enabled = false
	}
}
