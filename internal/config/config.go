// Package config loads the moka configuration file.
//
// The file is YAML. Every key is optional; command-line flags override
// whatever the file sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/moka/internal/gascost"
	"github.com/roach88/moka/internal/verifier"
)

// FileName is the configuration file looked up in the working directory
// when no path is given.
const FileName = "moka.yaml"

// Config holds the settings shared by every command.
type Config struct {
	VerificationVersion  int  `yaml:"verification_version"`
	DuringInitialization bool `yaml:"during_initialization"`
	AllowSelfCharged     bool `yaml:"allow_self_charged"`
	CostVersion          int  `yaml:"cost_version"`
	// Whitelist is a CUE table replacing the built-in one.
	Whitelist string `yaml:"whitelist"`
	// Concurrency bounds classes per run and runs per batch. 0 means
	// unbounded classes and one worker per CPU for batches.
	Concurrency int `yaml:"concurrency"`
	// CachePath is the SQLite result cache. Empty disables caching.
	CachePath string `yaml:"cache_path"`
	CacheSize int    `yaml:"cache_size"`
	// MetricsPath receives a text exposition dump after each command.
	MetricsPath string `yaml:"metrics_path"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		VerificationVersion: verifier.MaxVersion,
		CostVersion:         gascost.Latest().Version(),
		CacheSize:           128,
	}
}

// Load reads the file at path over the defaults. An empty path looks for
// FileName in the working directory and returns the defaults when it is
// absent; an explicit path must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the ranges of every setting.
func (c Config) Validate() error {
	if c.VerificationVersion < 0 || c.VerificationVersion > verifier.MaxVersion {
		return fmt.Errorf("verification_version %d: %w", c.VerificationVersion, verifier.ErrUnsupportedVersion)
	}
	if _, err := gascost.ForVersion(c.CostVersion); err != nil {
		return fmt.Errorf("cost_version %d: %w", c.CostVersion, err)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative, got %d", c.CacheSize)
	}
	return nil
}

// VerifierOptions returns the verification options the settings select.
func (c Config) VerifierOptions() verifier.Options {
	return verifier.Options{
		Version:              c.VerificationVersion,
		DuringInitialization: c.DuringInitialization,
		AllowSelfCharged:     c.AllowSelfCharged,
		Concurrency:          c.Concurrency,
	}
}
