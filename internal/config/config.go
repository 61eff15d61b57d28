package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/keagan/keyframer/internal/cluster"
	"github.com/keagan/keyframer/internal/errs"
	"github.com/keagan/keyframer/internal/features"
	"github.com/keagan/keyframer/internal/output"
	"github.com/keagan/keyframer/internal/reduce"
	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYFRAMER_"

// Frame retention modes
const (
	RetainMemory   = "memory"
	RetainRedecode = "redecode"
)

// Config holds all application configuration
type Config struct {
	Extract ExtractConfig `yaml:"extract" envPrefix:"EXTRACT_"`
	Decode  DecodeConfig  `yaml:"decode" envPrefix:"DECODE_"`
	Output  OutputConfig  `yaml:"output" envPrefix:"OUTPUT_"`

	// Workers bounds feature extraction; 0 uses every CPU.
	Workers int `yaml:"workers" env:"WORKERS"`
	// Retention is "memory" or "redecode".
	Retention string `yaml:"retention" env:"RETENTION"`

	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type ExtractConfig struct {
	Threshold      float64 `yaml:"threshold" env:"THRESHOLD"`
	MinClusterSize int     `yaml:"min_cluster_size" env:"MIN_CLUSTER_SIZE"`
	SVDRank        int     `yaml:"svd_rank" env:"SVD_RANK"`
}

type DecodeConfig struct {
	SampleFPS float64 `yaml:"sample_fps" env:"SAMPLE_FPS"`
	MaxWidth  int     `yaml:"max_width" env:"MAX_WIDTH"`
	Threads   int     `yaml:"threads" env:"THREADS"`
}

type OutputConfig struct {
	Dir          string `yaml:"dir" env:"DIR"`
	Format       string `yaml:"format" env:"FORMAT"`
	MaxWidth     int    `yaml:"max_width" env:"MAX_WIDTH"`
	SkipExisting bool   `yaml:"skip_existing" env:"SKIP_EXISTING"`
	Report       string `yaml:"report,omitempty" env:"REPORT"`
}

type TelemetryConfig struct {
	MetricsAddr  string `yaml:"metrics_addr,omitempty" env:"METRICS_ADDR"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

// Load reads configuration from file or defaults, then applies
// KEYFRAMER_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	// An explicit path must exist; only the search fallback may find nothing.
	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrConfig, err, "read %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrConfig, err, "parse %s", path)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, errs.Wrap(errs.ErrConfig, err, "environment")
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks every parameter that can be checked before decoding.
func (c *Config) Validate() error {
	if err := cluster.ValidateThreshold(c.Extract.Threshold); err != nil {
		return err
	}
	if err := cluster.ValidateMinSize(c.Extract.MinClusterSize); err != nil {
		return err
	}
	if c.Extract.SVDRank < 1 || c.Extract.SVDRank >= features.Len {
		return errs.Config("svd rank must be in [1,%d), got %d", features.Len, c.Extract.SVDRank)
	}
	if c.Workers < 0 {
		return errs.Config("workers must not be negative, got %d", c.Workers)
	}
	if c.Retention != RetainMemory && c.Retention != RetainRedecode {
		return errs.Config("retention must be %q or %q, got %q", RetainMemory, RetainRedecode, c.Retention)
	}
	if c.Decode.SampleFPS < 0 || c.Decode.MaxWidth < 0 || c.Output.MaxWidth < 0 {
		return errs.Config("sample fps and max widths must not be negative")
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Extract: ExtractConfig{
			Threshold:      cluster.DefaultThreshold,
			MinClusterSize: cluster.DefaultMinClusterSize,
			SVDRank:        reduce.DefaultRank,
		},
		Output: OutputConfig{
			Dir:    "output",
			Format: string(output.PNG),
		},
		Workers:   4,
		Retention: RetainMemory,
		Telemetry: TelemetryConfig{
			ServiceName: "keyframer",
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./keyframer.yaml",
		"./keyframer.yml",
		filepath.Join(os.Getenv("HOME"), ".keyframer", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
