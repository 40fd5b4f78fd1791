package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bindery/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file")
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Fatalf("expected default max attempts 3, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.ProgressThrottle() != 50*time.Millisecond {
		t.Fatalf("unexpected throttle: %s", cfg.ProgressThrottle())
	}
}

func TestLoadParsesAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[paths]
intake_dir = "` + filepath.Join(dir, "in") + `"
output_dir = "` + filepath.Join(dir, "out") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"

[recovery]
base_backoff_ms = 500
max_backoff_ms = 8000
max_attempts = 5
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Recovery.MaxAttempts != 5 {
		t.Fatalf("expected max attempts 5, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.BaseBackoff() != 500*time.Millisecond {
		t.Fatalf("unexpected base backoff: %s", cfg.BaseBackoff())
	}
	if !filepath.IsAbs(cfg.Paths.IntakeDir) {
		t.Fatalf("intake dir should be absolute: %s", cfg.Paths.IntakeDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[conversion]
tables = "fancy"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil {
		t.Fatal("expected validation error for bad tables mode")
	}
	if !strings.Contains(err.Error(), "conversion.tables") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.IntakeDir = filepath.Join(dir, "intake")
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Paths.LogDir = filepath.Join(dir, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, d := range []string{cfg.Paths.IntakeDir, cfg.Paths.OutputDir, cfg.Paths.LogDir} {
		info, err := os.Stat(d)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", d)
		}
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error writing over existing config")
	}
}
