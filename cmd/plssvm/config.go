package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the plssvm configuration file (~/.config/plssvm/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Backend
	Backend        string `yaml:"backend"`
	TargetPlatform string `yaml:"target_platform"`
	Precision      string `yaml:"precision"`
	Devices        *int64 `yaml:"devices"`
	Workers        *int64 `yaml:"workers"`
	KernelSource   string `yaml:"kernel_source"`

	// Model
	KernelType string   `yaml:"kernel_type"`
	Degree     *int64   `yaml:"degree"`
	Gamma      *float64 `yaml:"gamma"`
	Coef0      *float64 `yaml:"coef0"`
	Cost       *float64 `yaml:"cost"`
	Epsilon    *float64 `yaml:"epsilon"`
	MaxIter    *int64   `yaml:"max_iter"`

	Tuning TuningConfig `yaml:"tuning"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
}

type TuningConfig struct {
	ThreadBlockSize   *int64 `yaml:"thread_block_size"`
	FeatureBlockSize  *int64 `yaml:"feature_block_size"`
	InternalBlockSize *int64 `yaml:"internal_block_size"`
	OpenMPBlockSize   *int64 `yaml:"openmp_block_size"`
}

func configPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "plssvm", "config.yaml")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "plssvm", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when path
// is empty. A missing default file yields a zero Config; a missing explicit
// file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func setString(c *cli.Command, flag, value string, dst *string) {
	if value != "" && !c.IsSet(flag) {
		*dst = value
	}
}

func setValue[V any](c *cli.Command, flag string, value *V, dst *V) {
	if value != nil && !c.IsSet(flag) {
		*dst = *value
	}
}

// applyLoggingConfig applies config file defaults to the logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	setString(c, "log-level", cfg.LogLevel, &logLevel)
	setString(c, "log-format", cfg.LogFormat, &logFormat)
}

// applyBackendConfig applies config file defaults to the backend and tuning
// flags when the corresponding CLI flag was not explicitly set.
func applyBackendConfig(c *cli.Command, cfg Config) {
	setString(c, "backend", cfg.Backend, &backendName)
	setString(c, "target-platform", cfg.TargetPlatform, &targetPlatform)
	setString(c, "precision", cfg.Precision, &precision)
	setString(c, "kernel-source", cfg.KernelSource, &kernelSource)
	setValue(c, "devices", cfg.Devices, &numDevices)
	setValue(c, "workers", cfg.Workers, &numWorkers)
	setValue(c, "thread-block-size", cfg.Tuning.ThreadBlockSize, &threadBlockSize)
	setValue(c, "feature-block-size", cfg.Tuning.FeatureBlockSize, &featureBlockSize)
	setValue(c, "internal-block-size", cfg.Tuning.InternalBlockSize, &internalBlockSize)
	setValue(c, "openmp-block-size", cfg.Tuning.OpenMPBlockSize, &openMPBlockSize)
}

// applyTrainConfig applies config file defaults to the train command variables.
func applyTrainConfig(c *cli.Command, cfg Config, f *trainFlags) {
	setString(c, "kernel-type", cfg.KernelType, &f.kernelType)
	setValue(c, "degree", cfg.Degree, &f.degree)
	setValue(c, "gamma", cfg.Gamma, &f.gamma)
	setValue(c, "coef0", cfg.Coef0, &f.coef0)
	setValue(c, "cost", cfg.Cost, &f.cost)
	setValue(c, "epsilon", cfg.Epsilon, &f.epsilon)
	setValue(c, "max-iter", cfg.MaxIter, &f.maxIter)
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64) {
	setString(c, "addr", cfg.ServerAddress, addr)
	setValue(c, "rate-limit", cfg.RateLimit, rateLimit)
}
