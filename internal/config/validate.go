package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateProviders checks the credentials the daemon needs before it accepts work.
// CLI commands that only talk to the daemon do not require them.
func (c *Config) ValidateProviders() error {
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	if c.Deepgram.APIKey == "" {
		return fmt.Errorf("deepgram.api_key is required. Set DEEPGRAM_API_KEY env var or edit %s (create with 'scribe config init')", defaultPath)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required. Set LLM_API_KEY env var or edit %s", defaultPath)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.PublicURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Server.PublicURL)
	if err != nil {
		return fmt.Errorf("server.public_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("server.public_url must use http or https")
	}
	if parsed.Host == "" {
		return errors.New("server.public_url must include a host")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		return nil
	case DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return errors.New("store.dsn must be set when store.driver is postgres (or set SCRIBE_DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q (expected sqlite or postgres)", c.Store.Driver)
	}
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.TranscribeTimeoutSeconds < 0 {
		return errors.New("pipeline.transcribe_timeout_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.SubmitMaxInWindow < 0 {
		return errors.New("rate_limit.submit_max must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
