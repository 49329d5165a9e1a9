// Package config resolves the engine's optional ambient configuration with
// a priority cascade: defaults < global (~/.improve/config.json) < project
// (.improve.json) < env vars < flags. Everything here only seeds the entry
// contract; the engine itself takes all configuration
// explicitly and holds no global state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all resolved configuration values.
type Config struct {
	Format          string `json:"format"`
	Policy          string `json:"policy"`
	Assertions      string `json:"assertions"`
	AssertionSource string `json:"assertion_source"`
	ApplySelectors  bool   `json:"apply_selectors"`
	ApplyAssertions bool   `json:"apply_assertions"`
	TimeoutMs       int    `json:"timeout_ms"`
	// NoPrivateAPI disables the private-API fallbacks in selector
	// repair; settable only via IMPROVE_NO_PRIVATE_API.
	NoPrivateAPI bool `json:"-"`
}

// FlagOverrides holds values explicitly set via command-line flags.
// Nil pointer means the flag was not set, so lower-priority values are kept.
type FlagOverrides struct {
	Format          *string
	Policy          *string
	Assertions      *string
	AssertionSource *string
	ApplySelectors  *bool
	ApplyAssertions *bool
	TimeoutMs       *int
}

// Defaults returns the base configuration.
func Defaults() Config {
	return Config{
		Format:          "human",
		Policy:          "balanced",
		Assertions:      "none",
		AssertionSource: "deterministic",
		TimeoutMs:       10000,
	}
}

// Load builds the final configuration by applying the priority cascade.
func Load(projectDir string, flags *FlagOverrides) (Config, error) {
	cfg := Defaults()

	home, err := os.UserHomeDir()
	if err == nil {
		_ = loadJSONFile(&cfg, filepath.Join(home, ".improve", "config.json"))
	}

	if err := loadJSONFile(&cfg, filepath.Join(projectDir, ".improve.json")); err != nil {
		return cfg, fmt.Errorf("project config: %w", err)
	}

	loadEnvVars(&cfg)

	if flags != nil {
		applyFlags(&cfg, flags)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// fileConfig uses pointers to distinguish "not set" from zero values.
type fileConfig struct {
	Format          *string `json:"format"`
	Policy          *string `json:"policy"`
	Assertions      *string `json:"assertions"`
	AssertionSource *string `json:"assertion_source"`
	ApplySelectors  *bool   `json:"apply_selectors"`
	ApplyAssertions *bool   `json:"apply_assertions"`
	TimeoutMs       *int    `json:"timeout_ms"`
}

func loadJSONFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if fc.Format != nil {
		cfg.Format = *fc.Format
	}
	if fc.Policy != nil {
		cfg.Policy = *fc.Policy
	}
	if fc.Assertions != nil {
		cfg.Assertions = *fc.Assertions
	}
	if fc.AssertionSource != nil {
		cfg.AssertionSource = *fc.AssertionSource
	}
	if fc.ApplySelectors != nil {
		cfg.ApplySelectors = *fc.ApplySelectors
	}
	if fc.ApplyAssertions != nil {
		cfg.ApplyAssertions = *fc.ApplyAssertions
	}
	if fc.TimeoutMs != nil {
		cfg.TimeoutMs = *fc.TimeoutMs
	}
	return nil
}

func loadEnvVars(cfg *Config) {
	if v := os.Getenv("IMPROVE_FORMAT"); v != "" {
		cfg.Format = v
	}
	if v := os.Getenv("IMPROVE_POLICY"); v != "" {
		cfg.Policy = v
	}
	if v := os.Getenv("IMPROVE_ASSERTIONS"); v != "" {
		cfg.Assertions = v
	}
	if v := os.Getenv("IMPROVE_ASSERTION_SOURCE"); v != "" {
		cfg.AssertionSource = v
	}
	if v := os.Getenv("IMPROVE_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutMs = timeout
		}
	}
	if os.Getenv("IMPROVE_NO_PRIVATE_API") == "1" {
		cfg.NoPrivateAPI = true
	}
}

func applyFlags(cfg *Config, flags *FlagOverrides) {
	if flags.Format != nil {
		cfg.Format = *flags.Format
	}
	if flags.Policy != nil {
		cfg.Policy = *flags.Policy
	}
	if flags.Assertions != nil {
		cfg.Assertions = *flags.Assertions
	}
	if flags.AssertionSource != nil {
		cfg.AssertionSource = *flags.AssertionSource
	}
	if flags.ApplySelectors != nil {
		cfg.ApplySelectors = *flags.ApplySelectors
	}
	if flags.ApplyAssertions != nil {
		cfg.ApplyAssertions = *flags.ApplyAssertions
	}
	if flags.TimeoutMs != nil {
		cfg.TimeoutMs = *flags.TimeoutMs
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c Config) Validate() error {
	validFormats := map[string]bool{"human": true, "json": true, "csv": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("format must be human, json, or csv, got %q", c.Format)
	}

	validPolicies := map[string]bool{"reliable": true, "balanced": true, "aggressive": true}
	if !validPolicies[c.Policy] {
		return fmt.Errorf("policy must be reliable, balanced, or aggressive, got %q", c.Policy)
	}

	validAssertions := map[string]bool{"none": true, "candidates": true}
	if !validAssertions[c.Assertions] {
		return fmt.Errorf("assertions must be none or candidates, got %q", c.Assertions)
	}

	validSources := map[string]bool{"deterministic": true, "snapshot-native": true, "snapshot-cli": true}
	if !validSources[c.AssertionSource] {
		return fmt.Errorf("assertion_source must be deterministic, snapshot-native, or snapshot-cli, got %q", c.AssertionSource)
	}

	if c.TimeoutMs < 100 || c.TimeoutMs > 600000 {
		return fmt.Errorf("timeout_ms must be 100-600000, got %d", c.TimeoutMs)
	}
	return nil
}
