package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeStore()
	c.normalizeDeepgram()
	c.normalizeLLM()
	c.normalizePipeline()
	c.normalizeRateLimit()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultAPIBind
	}
	c.Server.PublicURL = strings.TrimRight(strings.TrimSpace(c.Server.PublicURL), "/")
	overrideFromEnv(&c.Server.APIToken, "SCRIBE_API_TOKEN")
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = defaultStoreDriver
	case "pgx", "postgresql":
		c.Store.Driver = DriverPostgres
	case "sqlite3":
		c.Store.Driver = DriverSQLite
	}
	overrideFromEnv(&c.Store.DSN, "SCRIBE_DATABASE_URL")
	if c.Store.MaxOpenConns <= 0 {
		c.Store.MaxOpenConns = defaultStoreMaxOpenConns
	}
	if c.Store.BusyTimeoutMillis <= 0 {
		c.Store.BusyTimeoutMillis = defaultStoreBusyTimeoutMillis
	}
}

func (c *Config) normalizeDeepgram() {
	overrideFromEnv(&c.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	c.Deepgram.BaseURL = strings.TrimRight(strings.TrimSpace(c.Deepgram.BaseURL), "/")
	if c.Deepgram.BaseURL == "" {
		c.Deepgram.BaseURL = defaultDeepgramBaseURL
	}
	c.Deepgram.Model = strings.TrimSpace(c.Deepgram.Model)
	if c.Deepgram.Model == "" {
		c.Deepgram.Model = defaultDeepgramModel
	}
	c.Deepgram.Language = strings.TrimSpace(c.Deepgram.Language)
	if c.Deepgram.TimeoutSeconds <= 0 {
		c.Deepgram.TimeoutSeconds = defaultDeepgramTimeoutSeconds
	}
	if c.Deepgram.RetryAttempts <= 0 {
		c.Deepgram.RetryAttempts = defaultDeepgramRetryAttempts
	}
}

func (c *Config) normalizeLLM() {
	// LLM_API_KEY wins over the generic OpenAI variable.
	overrideFromEnv(&c.LLM.APIKey, "OPENAI_API_KEY")
	overrideFromEnv(&c.LLM.APIKey, "LLM_API_KEY")
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.SystemPrompt = strings.TrimSpace(c.LLM.SystemPrompt)
	if c.LLM.SystemPrompt == "" {
		c.LLM.SystemPrompt = defaultEnhancePrompt
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryAttempts <= 0 {
		c.LLM.RetryAttempts = defaultLLMRetryAttempts
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.ReaperIntervalSeconds <= 0 {
		c.Pipeline.ReaperIntervalSeconds = defaultReaperIntervalSeconds
	}
}

func (c *Config) normalizeRateLimit() {
	if c.RateLimit.SubmitWindowMillis <= 0 {
		c.RateLimit.SubmitWindowMillis = defaultSubmitWindowMillis
	}
}

func (c *Config) normalizeNotifications() {
	overrideFromEnv(&c.Notifications.NtfyTopic, "SCRIBE_NTFY_TOPIC")
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// overrideFromEnv replaces target with the environment value when the variable is set and non-empty.
func overrideFromEnv(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			*target = trimmed
			return
		}
	}
	*target = strings.TrimSpace(*target)
}
