// Package config loads the exploration settings from YAML or JSON files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds every tunable of an exploration run.
type Config struct {
	App AppConfig `yaml:"app"`

	Explore     ExploreConfig     `yaml:"explore"`
	Equivalence EquivalenceConfig `yaml:"equivalence"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	FDG         FDGConfig         `yaml:"fdg"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Coverage    CoverageConfig    `yaml:"coverage"`
	Store       StoreConfig       `yaml:"store"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Test        TestConfig        `yaml:"test"`
	Device      DeviceConfig      `yaml:"device"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type AppConfig struct {
	Name   string `yaml:"name"`
	Bundle string `yaml:"bundle"`
}

type ExploreConfig struct {
	DepthLimit        int           `yaml:"depth_limit"`
	TimeLimit         time.Duration `yaml:"time_limit"`
	BackRetries       int           `yaml:"back_retries"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
	WidgetConcurrency int           `yaml:"widget_concurrency"`
	RelocateWidgets   bool          `yaml:"relocate_widgets"`
	WidgetNodes       bool          `yaml:"widget_nodes"`
}

type EquivalenceConfig struct {
	StructuralWeight float64 `yaml:"structural_weight"`
	VisualWeight     float64 `yaml:"visual_weight"`
	Threshold        float64 `yaml:"threshold"`
}

type ClassifierConfig struct {
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Attempts  int           `yaml:"attempts"`
	Delay     time.Duration `yaml:"delay"`
}

type FDGConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
}

type DiagnosticsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

type CoverageConfig struct {
	Interval           time.Duration `yaml:"interval"`
	DeclaredContainers []string      `yaml:"declared_containers"`
}

type StoreConfig struct {
	Kind  string      `yaml:"kind"`
	Dir   string      `yaml:"dir"`
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// CatalogConfig controls the per-unit document catalog written next to the run store.
type CatalogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// TestConfig bounds one task-level test of a functional unit.
type TestConfig struct {
	MaxSteps     int `yaml:"max_steps"`
	History      int `yaml:"history"`
	ParseRetries int `yaml:"parse_retries"`
	Variants     int `yaml:"variants"`
}

type DeviceConfig struct {
	Serial           string        `yaml:"serial"`
	ADBPath          string        `yaml:"adb_path"`
	GrantPermissions bool          `yaml:"grant_permissions"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Explore: ExploreConfig{
			DepthLimit:        10,
			TimeLimit:         60 * time.Minute,
			BackRetries:       3,
			SettleDelay:       2 * time.Second,
			RestartDelay:      5 * time.Second,
			WidgetConcurrency: 4,
			RelocateWidgets:   true,
		},
		Equivalence: EquivalenceConfig{
			StructuralWeight: 0,
			VisualWeight:     1,
			Threshold:        0.90,
		},
		Classifier: ClassifierConfig{
			Model:     "gemini-2.5-flash",
			APIKeyEnv: "GEMINI_API_KEY",
			Attempts:  3,
			Delay:     600 * time.Millisecond,
		},
		FDG: FDGConfig{
			Enabled:     true,
			Concurrency: 10,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:      true,
			DrainTimeout: 2 * time.Minute,
		},
		Coverage: CoverageConfig{
			Interval: time.Minute,
		},
		Store: StoreConfig{
			Kind: StoreFile,
			Dir:  ".droidscout/runs",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "droidscout:run:",
			},
		},
		Catalog: CatalogConfig{
			Dir: ".droidscout/units",
		},
		Test: TestConfig{
			MaxSteps:     20,
			History:      5,
			ParseRetries: 3,
			Variants:     3,
		},
		Device: DeviceConfig{
			ADBPath:          "adb",
			GrantPermissions: true,
			LockTTL:          90 * time.Minute,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads path over the defaults. JSON files are accepted since JSON is valid YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Explore.DepthLimit < 1 {
		errs = append(errs, fmt.Errorf("explore.depth_limit must be >= 1, got %d", c.Explore.DepthLimit))
	}
	if c.Explore.TimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("explore.time_limit must be positive"))
	}
	if c.Explore.BackRetries < 1 {
		errs = append(errs, fmt.Errorf("explore.back_retries must be >= 1"))
	}
	if c.Explore.WidgetConcurrency < 1 {
		errs = append(errs, fmt.Errorf("explore.widget_concurrency must be >= 1"))
	}
	if c.Equivalence.StructuralWeight < 0 || c.Equivalence.VisualWeight < 0 {
		errs = append(errs, fmt.Errorf("equivalence weights must not be negative"))
	} else if c.Equivalence.StructuralWeight+c.Equivalence.VisualWeight == 0 {
		errs = append(errs, fmt.Errorf("equivalence weights must not both be zero"))
	}
	if c.Equivalence.Threshold <= 0 || c.Equivalence.Threshold > 1 {
		errs = append(errs, fmt.Errorf("equivalence.threshold must be in (0, 1], got %v", c.Equivalence.Threshold))
	}
	if c.Classifier.Attempts < 1 {
		errs = append(errs, fmt.Errorf("classifier.attempts must be >= 1"))
	}
	if c.FDG.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("fdg.concurrency must be >= 1"))
	}
	if c.Test.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("test.max_steps must be >= 1"))
	}
	if c.Test.History < 1 {
		errs = append(errs, fmt.Errorf("test.history must be >= 1"))
	}
	if c.Catalog.Enabled && c.Catalog.Dir == "" {
		errs = append(errs, fmt.Errorf("catalog.dir is required when the catalog is enabled"))
	}
	switch c.Store.Kind {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("store.redis.addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.kind %q", c.Store.Kind))
	}
	return errors.Join(errs...)
}
