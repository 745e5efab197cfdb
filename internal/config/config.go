// Package config provides configuration management for bpsrmon.
// It uses Viper for loading configuration from files, environment
// variables, and command-line flags with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for bpsrmon.
type Config struct {
	Capture   CaptureConfig   `mapstructure:"capture"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Schema    SchemaConfig    `mapstructure:"schema"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FilterConfig scopes capture to a server's IP range and/or ports before
// the signature scan (C3) sees a packet. See internal/filter.
type FilterConfig struct {
	IncludeIPs   []string `mapstructure:"include_ips"`
	ExcludeIPs   []string `mapstructure:"exclude_ips"`
	IncludePorts []string `mapstructure:"include_ports"`
	ExcludePorts []string `mapstructure:"exclude_ports"`
}

// CaptureConfig holds configuration for packet capture.
type CaptureConfig struct {
	// Default interface name; empty means auto-select (C1).
	Interface string `mapstructure:"interface"`
	// Maximum bytes to capture per packet.
	Snaplen int32 `mapstructure:"snaplen"`
	// Enable promiscuous mode.
	Promiscuous bool `mapstructure:"promiscuous"`
	// Packet buffer timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// Kernel ring buffer size in bytes. Not passed to the capture
	// backend, which opens the interface with its default buffer size.
	BufferSize int `mapstructure:"buffer_size"`
	// BPF filter program; defaults to "tcp".
	BPFFilter string `mapstructure:"bpf_filter"`
}

// OptimizerConfig holds the genetic algorithm's tunable defaults.
type OptimizerConfig struct {
	PopulationSize  int     `mapstructure:"population_size"`
	Generations     int     `mapstructure:"generations"`
	TournamentSize  int     `mapstructure:"tournament_size"`
	CrossoverRate   float64 `mapstructure:"crossover_rate"`
	MutationRate    float64 `mapstructure:"mutation_rate"`
	ElitismRate     float64 `mapstructure:"elitism_rate"`
	LocalSearchRate float64 `mapstructure:"local_search_rate"`
	NumCampaigns    int     `mapstructure:"num_campaigns"` // 0 = auto (hardware_parallelism-1, min 1)
	TopN            int     `mapstructure:"top_n"`
}

// SchemaConfig points at an optional override schema descriptor file.
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	// Log level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Log file path (empty = stderr only).
	File string `mapstructure:"file"`
	// Rotation settings, passed through to lumberjack.
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Snaplen:     65535,
			Promiscuous: true,
			Timeout:     time.Second,
			BufferSize:  10 * 1024 * 1024,
			BPFFilter:   "tcp",
		},
		Optimizer: OptimizerConfig{
			PopulationSize:  150,
			Generations:     50,
			TournamentSize:  5,
			CrossoverRate:   0.8,
			MutationRate:    0.1,
			ElitismRate:     0.1,
			LocalSearchRate: 0.3,
			NumCampaigns:    0,
			TopN:            40,
		},
		Schema: SchemaConfig{
			Path: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       defaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Validate sanity-checks the GA tuning knobs (C9) and the schema override
// path (§4.7) before a monitoring run starts, so a typo in a hand-edited
// config file surfaces immediately instead of as a confusing optimizer
// failure partway through a capture.
func (c *Config) Validate() error {
	o := c.Optimizer
	if o.PopulationSize <= 0 {
		return fmt.Errorf("optimizer.population_size must be positive, got %d", o.PopulationSize)
	}
	if o.Generations <= 0 {
		return fmt.Errorf("optimizer.generations must be positive, got %d", o.Generations)
	}
	if o.TournamentSize <= 0 || o.TournamentSize > o.PopulationSize {
		return fmt.Errorf("optimizer.tournament_size must be in (0, population_size], got %d", o.TournamentSize)
	}
	for name, rate := range map[string]float64{
		"crossover_rate":    o.CrossoverRate,
		"mutation_rate":     o.MutationRate,
		"elitism_rate":      o.ElitismRate,
		"local_search_rate": o.LocalSearchRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("optimizer.%s must be in [0, 1], got %v", name, rate)
		}
	}
	if o.TopN <= 0 {
		return fmt.Errorf("optimizer.top_n must be positive, got %d", o.TopN)
	}
	if o.NumCampaigns < 0 {
		return fmt.Errorf("optimizer.num_campaigns must not be negative, got %d", o.NumCampaigns)
	}
	if c.Schema.Path != "" {
		if _, err := os.Stat(expandPath(c.Schema.Path)); err != nil {
			return fmt.Errorf("schema.path: %w", err)
		}
	}
	return nil
}

func defaultLogPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "bpsrmon", "bpsrmon.log")
}

// global holds the global configuration instance.
var global *Config

// Global returns the global configuration instance.
func Global() *Config {
	if global == nil {
		global = DefaultConfig()
	}
	return global
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	global = cfg
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".config", "bpsrmon"))
	v.AddConfigPath("/etc/bpsrmon")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BPSRMON")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	SetGlobal(cfg)
	return cfg, nil
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	SetGlobal(cfg)
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("capture.interface", d.Capture.Interface)
	v.SetDefault("capture.snaplen", d.Capture.Snaplen)
	v.SetDefault("capture.promiscuous", d.Capture.Promiscuous)
	v.SetDefault("capture.timeout", d.Capture.Timeout)
	v.SetDefault("capture.buffer_size", d.Capture.BufferSize)
	v.SetDefault("capture.bpf_filter", d.Capture.BPFFilter)

	v.SetDefault("filter.include_ips", d.Filter.IncludeIPs)
	v.SetDefault("filter.exclude_ips", d.Filter.ExcludeIPs)
	v.SetDefault("filter.include_ports", d.Filter.IncludePorts)
	v.SetDefault("filter.exclude_ports", d.Filter.ExcludePorts)

	v.SetDefault("optimizer.population_size", d.Optimizer.PopulationSize)
	v.SetDefault("optimizer.generations", d.Optimizer.Generations)
	v.SetDefault("optimizer.tournament_size", d.Optimizer.TournamentSize)
	v.SetDefault("optimizer.crossover_rate", d.Optimizer.CrossoverRate)
	v.SetDefault("optimizer.mutation_rate", d.Optimizer.MutationRate)
	v.SetDefault("optimizer.elitism_rate", d.Optimizer.ElitismRate)
	v.SetDefault("optimizer.local_search_rate", d.Optimizer.LocalSearchRate)
	v.SetDefault("optimizer.num_campaigns", d.Optimizer.NumCampaigns)
	v.SetDefault("optimizer.top_n", d.Optimizer.TopN)

	v.SetDefault("schema.path", d.Schema.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "bpsrmon", "config.yaml")
}
