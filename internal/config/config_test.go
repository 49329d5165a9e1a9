package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Format != "human" || cfg.Policy != "balanced" || cfg.Assertions != "none" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.AssertionSource != "deterministic" || cfg.TimeoutMs != 10000 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	content := `{"policy": "reliable", "assertions": "candidates", "apply_selectors": true}`
	if err := os.WriteFile(filepath.Join(dir, ".improve.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy != "reliable" || cfg.Assertions != "candidates" || !cfg.ApplySelectors {
		t.Errorf("project file not applied: %+v", cfg)
	}
	// Untouched fields keep defaults.
	if cfg.Format != "human" {
		t.Errorf("format = %q, want default human", cfg.Format)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	content := `{"policy": "reliable"}`
	if err := os.WriteFile(filepath.Join(dir, ".improve.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IMPROVE_POLICY", "aggressive")
	t.Setenv("IMPROVE_TIMEOUT", "20000")
	t.Setenv("IMPROVE_NO_PRIVATE_API", "1")

	cfg, err := Load(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy != "aggressive" {
		t.Errorf("policy = %q, env must beat project file", cfg.Policy)
	}
	if cfg.TimeoutMs != 20000 {
		t.Errorf("timeout = %d, want 20000", cfg.TimeoutMs)
	}
	if !cfg.NoPrivateAPI {
		t.Error("IMPROVE_NO_PRIVATE_API=1 must set NoPrivateAPI")
	}
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("IMPROVE_POLICY", "aggressive")

	policyFlag := "reliable"
	apply := true
	cfg, err := Load(dir, &FlagOverrides{Policy: &policyFlag, ApplyAssertions: &apply})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Policy != "reliable" {
		t.Errorf("policy = %q, flags must beat env", cfg.Policy)
	}
	if !cfg.ApplyAssertions {
		t.Error("apply-assertions flag not applied")
	}
}

func TestLoadRejectsMalformedProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	if err := os.WriteFile(filepath.Join(dir, ".improve.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir, nil); err == nil {
		t.Fatal("expected a parse error for malformed project config")
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad format", func(c *Config) { c.Format = "yaml" }},
		{"bad policy", func(c *Config) { c.Policy = "yolo" }},
		{"bad assertions", func(c *Config) { c.Assertions = "maybe" }},
		{"bad source", func(c *Config) { c.AssertionSource = "psychic" }},
		{"timeout too small", func(c *Config) { c.TimeoutMs = 5 }},
		{"timeout too large", func(c *Config) { c.TimeoutMs = 10_000_000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if cfg.Validate() == nil {
				t.Error("expected validation failure")
			}
		})
	}
}

func TestLoadMissingFilesAreFine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := Load(t.TempDir(), nil); err != nil {
		t.Fatalf("missing config files must not error: %v", err)
	}
}
