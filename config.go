package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	R        RConfig        `json:"r" yaml:"r" mapstructure:"r"`
	Engine   EngineConfig   `json:"engine" yaml:"engine" mapstructure:"engine"`
	Packages PackagesConfig `json:"packages" yaml:"packages" mapstructure:"packages"`
	Cache    CacheConfig    `json:"cache" yaml:"cache" mapstructure:"cache"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	REPL     REPLConfig     `json:"repl" yaml:"repl" mapstructure:"repl"`
}

// RConfig describes how the R interpreter process is started
type RConfig struct {
	Binary                string   `json:"binary" yaml:"binary" mapstructure:"binary"`
	Args                  []string `json:"args" yaml:"args" mapstructure:"args"`
	StartupTimeoutSeconds int      `json:"startup_timeout_seconds" yaml:"startup_timeout_seconds" mapstructure:"startup_timeout_seconds"`
	WorkDir               string   `json:"work_dir,omitempty" yaml:"work_dir,omitempty" mapstructure:"work_dir"`
}

// EngineConfig contains execution engine configuration
type EngineConfig struct {
	MaxExecutionTime int  `json:"max_execution_time_seconds" yaml:"max_execution_time_seconds" mapstructure:"max_execution_time_seconds"`
	InstallTimeout   int  `json:"install_timeout_seconds" yaml:"install_timeout_seconds" mapstructure:"install_timeout_seconds"`
	PlotWidth        int  `json:"plot_width" yaml:"plot_width" mapstructure:"plot_width"`
	PlotHeight       int  `json:"plot_height" yaml:"plot_height" mapstructure:"plot_height"`
	PlotResolution   int  `json:"plot_resolution" yaml:"plot_resolution" mapstructure:"plot_resolution"`
	RenderMarkdown   bool `json:"render_markdown" yaml:"render_markdown" mapstructure:"render_markdown"`
	Verbose          bool `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

// PackagesConfig controls dependency installation
type PackagesConfig struct {
	Baseline     []string `json:"baseline" yaml:"baseline" mapstructure:"baseline"`
	PrimaryRepo  string   `json:"primary_repo" yaml:"primary_repo" mapstructure:"primary_repo"`
	FallbackRepo string   `json:"fallback_repo" yaml:"fallback_repo" mapstructure:"fallback_repo"`
	AutoInstall  bool     `json:"auto_install" yaml:"auto_install" mapstructure:"auto_install"`
}

// CacheConfig controls the dataset caches
type CacheConfig struct {
	CatalogTTLSeconds int    `json:"catalog_ttl_seconds" yaml:"catalog_ttl_seconds" mapstructure:"catalog_ttl_seconds"`
	DatasetTTLSeconds int    `json:"dataset_ttl_seconds" yaml:"dataset_ttl_seconds" mapstructure:"dataset_ttl_seconds"`
	MaxDatasets       uint64 `json:"max_datasets" yaml:"max_datasets" mapstructure:"max_datasets"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	File       string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" yaml:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Address string `json:"address" yaml:"address" mapstructure:"address"`
}

// REPLConfig contains REPL configuration
type REPLConfig struct {
	Prompt      string `json:"prompt" yaml:"prompt" mapstructure:"prompt"`
	HistorySize int    `json:"history_size" yaml:"history_size" mapstructure:"history_size"`
	HistoryFile string `json:"history_file" yaml:"history_file" mapstructure:"history_file"`
	ShowWelcome bool   `json:"show_welcome" yaml:"show_welcome" mapstructure:"show_welcome"`
	Colors      bool   `json:"colors" yaml:"colors" mapstructure:"colors"`
	PlotDir     string `json:"plot_dir,omitempty" yaml:"plot_dir,omitempty" mapstructure:"plot_dir"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		R: RConfig{
			Binary:                "R",
			Args:                  []string{"--vanilla", "--quiet", "--no-echo"},
			StartupTimeoutSeconds: 60,
		},
		Engine: EngineConfig{
			MaxExecutionTime: 120,
			InstallTimeout:   300,
			PlotWidth:        800,
			PlotHeight:       600,
			PlotResolution:   96,
		},
		Packages: PackagesConfig{
			Baseline:     []string{"ggplot2", "dplyr", "base64enc", "knitr"},
			PrimaryRepo:  "https://packagemanager.posit.co/cran/latest",
			FallbackRepo: "https://cloud.r-project.org",
			AutoInstall:  true,
		},
		Cache: CacheConfig{
			CatalogTTLSeconds: 600,
			DatasetTTLSeconds: 300,
			MaxDatasets:       32,
		},
		Logging: LoggingConfig{
			Level:      "warn",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Address: ":9464",
		},
		REPL: REPLConfig{
			Prompt:      "R> ",
			HistorySize: 1000,
			HistoryFile: "~/.rbridge_history",
			ShowWelcome: true,
			Colors:      true,
		},
	}
}

// LoadConfig loads configuration from a file, layered over the defaults
// and overridden by RBRIDGE_* environment variables. A missing file is
// not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if err := seedDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("RBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// keys without a default are invisible to AutomaticEnv
	_ = v.BindEnv("r.work_dir")
	_ = v.BindEnv("logging.file")
	_ = v.BindEnv("repl.plot_dir")

	if path != "" {
		path = expandHome(path)
		v.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			v.SetConfigType("json")
		default:
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}

// seedDefaults registers every default through a JSON round trip so that
// nested keys become visible to AutomaticEnv.
func seedDefaults(v *viper.Viper, config *Config) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode default config: %w", err)
	}
	setDefaults(v, "", tree)
	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			setDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, path string) error {
	path = expandHome(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON config: %v", err)
		}
	default:
		data, err = yaml.Marshal(config)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML config: %v", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}

	return nil
}

// expandHome expands ~ to the user's home directory
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
