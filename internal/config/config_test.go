package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Correlation.WindowSeconds != 300 {
		t.Fatalf("expected default window 300, got %.1f", cfg.Correlation.WindowSeconds)
	}
	if cfg.Correlation.MinConfidenceThreshold != 30 {
		t.Fatalf("expected default threshold 30, got %.1f", cfg.Correlation.MinConfidenceThreshold)
	}
	if !cfg.Correlation.EnableRepetitionWeighting {
		t.Fatalf("expected repetition weighting on by default")
	}
	if cfg.Correlation.MaxRepetitionBoost != 2.0 {
		t.Fatalf("expected default max boost 2.0, got %.2f", cfg.Correlation.MaxRepetitionBoost)
	}
	if _, err := cfg.Profile(); err != nil {
		t.Fatalf("default profile should resolve: %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlator.yaml")
	content := []byte(`
server:
  address: ":9090"
  gracefulTimeout: 5s
correlation:
  windowSeconds: 120
  minConfidenceThreshold: 50
  enableRepetitionWeighting: false
  defaultWeightProfile: time_focused
directory:
  baseURL: "http://localhost:8081"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("expected address :9090, got %s", cfg.Server.Address)
	}
	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Fatalf("expected graceful timeout 5s, got %v", cfg.Server.GracefulTimeout)
	}
	if cfg.Correlation.WindowSeconds != 120 {
		t.Fatalf("expected window 120, got %.1f", cfg.Correlation.WindowSeconds)
	}
	if cfg.Correlation.EnableRepetitionWeighting {
		t.Fatalf("expected repetition weighting off")
	}
	if cfg.Directory.BaseURL != "http://localhost:8081" {
		t.Fatalf("unexpected directory URL %s", cfg.Directory.BaseURL)
	}

	engineCfg := cfg.EngineConfig()
	if engineCfg.WindowSeconds != 120 || engineCfg.Repetition.Enabled {
		t.Fatalf("engine config not derived from correlation section: %+v", engineCfg)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.TimeWeight != 0.60 {
		t.Fatalf("expected time-focused profile, got %+v", profile)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CORRELATOR_SERVER_ADDRESS", ":7000")
	t.Setenv("CORRELATOR_MIN_CONFIDENCE", "45")
	t.Setenv("CORRELATOR_STRICT_RELAYS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":7000" {
		t.Fatalf("env override not applied: %s", cfg.Server.Address)
	}
	if cfg.Correlation.MinConfidenceThreshold != 45 {
		t.Fatalf("env override not applied: %.1f", cfg.Correlation.MinConfidenceThreshold)
	}
	if !cfg.Correlation.StrictRelayValidation {
		t.Fatalf("expected strict relay validation on")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("correlation:\n  windowSeconds: -5\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for negative window")
	}

	path = filepath.Join(dir, "badprofile.yaml")
	if err := os.WriteFile(path, []byte("correlation:\n  defaultWeightProfile: nonsense\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for unknown profile")
	}

	path = filepath.Join(dir, "custom.yaml")
	custom := []byte(`
correlation:
  defaultWeightProfile: custom
  customWeights:
    time: 0.5
    volume: 0.3
    pattern: 0.2
    caseId: CASE-2026-014
`)
	if err := os.WriteFile(path, custom, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("custom profile should validate: %v", err)
	}
	profile, err := cfg.Profile()
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.CaseID != "CASE-2026-014" {
		t.Fatalf("custom metadata lost: %+v", profile)
	}
}
