package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateConversion(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateConversion() error {
	switch c.Conversion.Tables {
	case "structured", "auto", "image-only":
	default:
		return fmt.Errorf("conversion.tables must be structured, auto, or image-only (got %q)", c.Conversion.Tables)
	}
	switch c.Conversion.OCR {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("conversion.ocr must be auto, on, or off (got %q)", c.Conversion.OCR)
	}
	if c.Conversion.Workers < 1 {
		return errors.New("conversion.workers must be at least 1")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.BaseBackoffMS < 100 {
		return errors.New("recovery.base_backoff_ms must be at least 100")
	}
	if c.Recovery.MaxBackoffMS < c.Recovery.BaseBackoffMS {
		return errors.New("recovery.max_backoff_ms must be at least recovery.base_backoff_ms")
	}
	if c.Recovery.MaxAttempts < 1 {
		return errors.New("recovery.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.ProgressThrottleMS < 0 {
		return errors.New("workflow.progress_throttle_ms must not be negative")
	}
	if c.Workflow.ShutdownTimeoutMS <= 0 {
		return errors.New("workflow.shutdown_timeout_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	if c.Notifications.SendAttempts < 1 {
		return errors.New("notifications.send_attempts must be at least 1")
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must not be negative")
	}
	return nil
}
