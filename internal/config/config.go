// Package config loads pipeline configuration from environment variables,
// .env files, and an optional YAML config file, adapted from the teacher's
// viper+godotenv loader (internal/config/config.go) and trimmed to the
// settings this domain actually needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all pipeline settings.
type Config struct {
	StorageDir    string `yaml:"storage_dir"`
	GraphSpecsDir string `yaml:"graph_specs_dir"`
	LogsDir       string `yaml:"logs_dir"`
	TestMode      bool   `yaml:"test_mode"`

	Normalization NormalizationConfig `yaml:"normalization"`
	Merge         MergeConfig         `yaml:"merge"`
}

// NormalizationConfig configures the NodeNormalizer/EdgeNormalizer HTTP
// clients (spec.md §4.3/§4.4).
type NormalizationConfig struct {
	NodeNormURL     string        `yaml:"node_norm_url"`
	EdgeNormURL     string        `yaml:"edge_norm_url"`
	Concurrency     int           `yaml:"concurrency"`
	BatchSize       int           `yaml:"batch_size"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
}

// MergeConfig holds merge settings. ChunkSize is loaded and validated, but
// it is not passed to the merger: DiskMerger always uses its own fixed
// chunk size.
type MergeConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// Default returns the configuration used when nothing else overrides it.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		StorageDir:    filepath.Join(homeDir, ".kgbuild", "storage"),
		GraphSpecsDir: filepath.Join(homeDir, ".kgbuild", "graph_specs"),
		LogsDir:       filepath.Join(homeDir, ".kgbuild", "logs"),
		TestMode:      false,
		Normalization: NormalizationConfig{
			NodeNormURL:     "https://nodenormalization-sri.renci.org",
			EdgeNormURL:     "https://bl-lookup-sri.renci.org",
			Concurrency:     4,
			BatchSize:       1000,
			RequestTimeout:  30 * time.Second,
			MaxRetries:      8,
			RateLimitPerSec: 10,
		},
		Merge: MergeConfig{
			ChunkSize: 1_000_000,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file, and
// environment variables (prefixed KGBUILD_), in that order of increasing
// precedence. The .env.local, .env and ~/.kgbuild/.env files only set
// environment variables that are not already set, so a variable from the
// real environment wins over one from those files.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage_dir", cfg.StorageDir)
	v.SetDefault("graph_specs_dir", cfg.GraphSpecsDir)
	v.SetDefault("logs_dir", cfg.LogsDir)
	v.SetDefault("test_mode", cfg.TestMode)
	v.SetDefault("normalization", cfg.Normalization)
	v.SetDefault("merge", cfg.Merge)

	v.SetEnvPrefix("KGBUILD")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".kgbuild")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".kgbuild"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".kgbuild", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KGBUILD_STORAGE_DIR"); v != "" {
		cfg.StorageDir = expandPath(v)
	}
	if v := os.Getenv("KGBUILD_GRAPH_SPECS_DIR"); v != "" {
		cfg.GraphSpecsDir = expandPath(v)
	}
	if v := os.Getenv("KGBUILD_LOGS_DIR"); v != "" {
		cfg.LogsDir = expandPath(v)
	}
	if v := os.Getenv("KGBUILD_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TestMode = b
		}
	}
	if v := os.Getenv("KGBUILD_NODE_NORM_URL"); v != "" {
		cfg.Normalization.NodeNormURL = v
	}
	if v := os.Getenv("KGBUILD_EDGE_NORM_URL"); v != "" {
		cfg.Normalization.EdgeNormURL = v
	}
	if v := os.Getenv("KGBUILD_NORM_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Normalization.Concurrency = i
		}
	}
	if v := os.Getenv("KGBUILD_NORM_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Normalization.BatchSize = i
		}
	}
	if v := os.Getenv("KGBUILD_MERGE_CHUNK_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Merge.ChunkSize = i
		}
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes cfg to path as YAML.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("storage_dir", c.StorageDir)
	v.Set("graph_specs_dir", c.GraphSpecsDir)
	v.Set("logs_dir", c.LogsDir)
	v.Set("test_mode", c.TestMode)
	v.Set("normalization", c.Normalization)
	v.Set("merge", c.Merge)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
