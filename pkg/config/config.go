// Package config loads the single YAML configuration file described in
// §4.10, and carries the small amount of runtime machinery (logging,
// signal-driven shutdown) that every entrypoint needs but that doesn't
// belong to any one component.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigEnvVar is the path override named in §6.
const DefaultConfigEnvVar = "ALPENHORN_CONFIG"

// IOClassDefaults holds the per-class settings a config file may override;
// classes that don't recognise a key simply ignore it.
type IOClassDefaults struct {
	VerifyOnPull bool `yaml:"verify_on_pull"`
}

// Config is the top-level shape of the daemon's YAML file.
type Config struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Host string `yaml:"host"` // this daemon's own hostname, matched against storage_node.host

	Workers        int           `yaml:"workers"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	ShutdownGrace  time.Duration `yaml:"shutdown_grace"`
	StaleTempAge   time.Duration `yaml:"stale_temp_age"`

	PerTickImportCap int `yaml:"per_tick_import_cap"`
	PerTickVerifyCap int `yaml:"per_tick_verify_cap"`
	PerTickDeleteCap int `yaml:"per_tick_delete_cap"`
	PerTickCopyCap   int `yaml:"per_tick_copy_cap"`

	Log struct {
		Destinations []string `yaml:"destinations"` // "stderr", or a file path
		TailLines    int      `yaml:"tail_lines"`
	} `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"` // "" disables the metrics endpoint

	Extensions []string `yaml:"extensions"`

	IOClassDefaults map[string]IOClassDefaults `yaml:"io_class_defaults"`
}

const (
	defaultWorkers          = 8
	defaultUpdateInterval   = 10 * time.Second
	defaultShutdownGrace    = 30 * time.Second
	defaultStaleTempAge     = time.Hour
	defaultPerTickImportCap = 200
	defaultPerTickVerifyCap = 200
	defaultPerTickDeleteCap = 200
	defaultPerTickCopyCap   = 50
	defaultTailLines        = 200
)

// Load reads and parses path, filling in every default named in §4.10.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// ResolvePath honors the ALPENHORN_CONFIG override, falling back to the
// flag/argument the caller already resolved otherwise.
func ResolvePath(flagValue string) string {
	if envPath := os.Getenv(DefaultConfigEnvVar); envPath != "" {
		return envPath
	}
	return flagValue
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = defaultUpdateInterval
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = defaultShutdownGrace
	}
	if c.StaleTempAge <= 0 {
		c.StaleTempAge = defaultStaleTempAge
	}
	if c.PerTickImportCap <= 0 {
		c.PerTickImportCap = defaultPerTickImportCap
	}
	if c.PerTickVerifyCap <= 0 {
		c.PerTickVerifyCap = defaultPerTickVerifyCap
	}
	if c.PerTickDeleteCap <= 0 {
		c.PerTickDeleteCap = defaultPerTickDeleteCap
	}
	if c.PerTickCopyCap <= 0 {
		c.PerTickCopyCap = defaultPerTickCopyCap
	}
	if c.Log.TailLines <= 0 {
		c.Log.TailLines = defaultTailLines
	}
	if len(c.Log.Destinations) == 0 {
		c.Log.Destinations = []string{"stderr"}
	}
}

// Validate reports configuration errors (§7 - "fatal at startup").
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if c.Host == "" {
		return fmt.Errorf("config: host is required")
	}
	return nil
}
