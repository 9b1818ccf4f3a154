package testsupport

import (
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Provider keys are set to placeholders so ValidateProviders passes.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Server.PublicURL = "http://scribe.test"
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.DSN = ""
	cfgVal.Deepgram.APIKey = "test-deepgram"
	cfgVal.LLM.APIKey = "test-llm"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithAPIToken sets the ingress bearer token.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithTranscribeTimeout overrides the TRANSCRIBING deadline.
func WithTranscribeTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.TranscribeTimeoutSeconds = seconds
	}
}

// WithSubmitQuota overrides the per-user submit rate limit.
func WithSubmitQuota(windowMillis int64, maxInWindow int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.RateLimit.SubmitWindowMillis = windowMillis
		b.cfg.RateLimit.SubmitMaxInWindow = maxInWindow
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
