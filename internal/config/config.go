package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete lattice configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Facts    FactsConfig    `json:"facts" mapstructure:"facts"`
	Build    BuildConfig    `json:"build" mapstructure:"build"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Insights InsightsConfig `json:"insights" mapstructure:"insights"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// FactsConfig locates the external fact store
type FactsConfig struct {
	// Path to the indexed fact database, relative to the repo root
	Path string `json:"path" mapstructure:"path"`
	// ScipIndexPath optionally names a SCIP index to ingest as facts
	ScipIndexPath string `json:"scipIndexPath" mapstructure:"scipIndexPath"`
}

// BuildConfig contains graph builder settings
type BuildConfig struct {
	ExcludePatterns []string `json:"excludePatterns" mapstructure:"excludePatterns"`
	Languages       []string `json:"languages" mapstructure:"languages"`
	// ResolveOverrides names a TOML file of alias-table overrides
	ResolveOverrides string `json:"resolveOverrides" mapstructure:"resolveOverrides"`
}

// AnalysisConfig bounds traversal work
type AnalysisConfig struct {
	MaxDepth int `json:"maxDepth" mapstructure:"maxDepth"`
	MaxPaths int `json:"maxPaths" mapstructure:"maxPaths"`
	TopN     int `json:"topN" mapstructure:"topN"`
}

// InsightsConfig controls the optional scoring layer
type InsightsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// WeightsPath names a YAML weight profile; empty means built-in defaults
	WeightsPath string `json:"weightsPath" mapstructure:"weightsPath"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Facts: FactsConfig{
			Path: ".lattice/facts.db",
		},
		Build: BuildConfig{},
		Analysis: AnalysisConfig{
			MaxDepth: 3,
			MaxPaths: 100,
			TopN:     10,
		},
		Insights: InsightsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .lattice/config.json
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	// Set defaults so a sparse file still yields a usable config
	def := DefaultConfig()
	v.SetDefault("version", def.Version)
	v.SetDefault("repoRoot", repoRoot)
	v.SetDefault("facts.path", def.Facts.Path)
	v.SetDefault("analysis.maxDepth", def.Analysis.MaxDepth)
	v.SetDefault("analysis.maxPaths", def.Analysis.MaxPaths)
	v.SetDefault("analysis.topN", def.Analysis.TopN)
	v.SetDefault("insights.enabled", def.Insights.Enabled)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.level", def.Logging.Level)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".lattice"))
	v.SetEnvPrefix("LATTICE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.RepoRoot = repoRoot
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to .lattice/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".lattice")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Analysis.MaxDepth <= 0 {
		return &ConfigError{Field: "analysis.maxDepth", Message: "must be positive"}
	}
	if c.Analysis.MaxPaths <= 0 {
		return &ConfigError{Field: "analysis.maxPaths", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
