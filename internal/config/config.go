package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	IntakeDir string `toml:"intake_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Conversion contains defaults applied to conversion requests that do not
// specify their own values.
type Conversion struct {
	Tables           string `toml:"tables"`
	OCR              string `toml:"ocr"`
	Workers          int    `toml:"workers"`
	TOC              bool   `toml:"toc"`
	DeterministicIDs bool   `toml:"deterministic_ids"`
}

// Recovery contains retry scheduling parameters for failed conversions.
type Recovery struct {
	BaseBackoffMS int `toml:"base_backoff_ms"`
	MaxBackoffMS  int `toml:"max_backoff_ms"`
	MaxAttempts   int `toml:"max_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	SendAttempts       int    `toml:"send_attempts"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Workflow contains timing knobs for the conversion lifecycle.
type Workflow struct {
	ProgressThrottleMS int `toml:"progress_throttle_ms"`
	ShutdownTimeoutMS  int `toml:"shutdown_timeout_ms"`
	IntakeSettleMS     int `toml:"intake_settle_ms"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Bindery.
//
// Configuration sections by subsystem:
//   - Paths: intake, output, and log directories
//   - Conversion: default feature flags for conversion requests
//   - Recovery: retry backoff and attempt budget
//   - Notifications: ntfy push notification settings
//   - Workflow: progress throttling and shutdown timing
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Conversion    Conversion    `toml:"conversion"`
	Recovery      Recovery      `toml:"recovery"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bindery/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return is
// the resolved path, the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bindery.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.IntakeDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ProgressThrottle returns the progress coalescing window as a duration.
func (c *Config) ProgressThrottle() time.Duration {
	return time.Duration(c.Workflow.ProgressThrottleMS) * time.Millisecond
}

// ShutdownTimeout returns the bounded wait applied during controller shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workflow.ShutdownTimeoutMS) * time.Millisecond
}

// IntakeSettle returns how long an arriving file must be quiescent before
// the daemon picks it up.
func (c *Config) IntakeSettle() time.Duration {
	return time.Duration(c.Workflow.IntakeSettleMS) * time.Millisecond
}

// BaseBackoff returns the first retry delay.
func (c *Config) BaseBackoff() time.Duration {
	return time.Duration(c.Recovery.BaseBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay cap.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Recovery.MaxBackoffMS) * time.Millisecond
}

// DedupWindow returns the notification deduplication TTL.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Notifications.DedupWindowSeconds) * time.Second
}

func (c *Config) normalize() error {
	paths := []*string{
		&c.Paths.IntakeDir,
		&c.Paths.OutputDir,
		&c.Paths.LogDir,
	}
	for _, field := range paths {
		trimmed := strings.TrimSpace(*field)
		if trimmed == "" {
			*field = trimmed
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return err
		}
		*field = expanded
	}

	c.Conversion.Tables = strings.ToLower(strings.TrimSpace(c.Conversion.Tables))
	c.Conversion.OCR = strings.ToLower(strings.TrimSpace(c.Conversion.OCR))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
