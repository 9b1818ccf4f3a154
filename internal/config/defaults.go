package config

const (
	defaultDataDir                  = "~/.local/share/scribe"
	defaultLogDir                   = "~/.local/share/scribe/logs"
	defaultConfigPath               = "~/.config/scribe/config.toml"
	defaultProjectConfig            = "scribe.toml"
	defaultAPIBind                  = "127.0.0.1:7488"
	defaultStoreDriver              = DriverSQLite
	defaultStoreMaxOpenConns        = 8
	defaultStoreBusyTimeoutMillis   = 5000
	defaultDeepgramBaseURL          = "https://api.deepgram.com/v1"
	defaultDeepgramModel            = "nova-3"
	defaultDeepgramTimeoutSeconds   = 30
	defaultDeepgramRetryAttempts    = 5
	defaultLLMBaseURL               = "https://api.openai.com/v1"
	defaultLLMModel                 = "gpt-4o-mini"
	defaultLLMTimeoutSeconds        = 60
	defaultLLMRetryAttempts         = 3
	defaultTranscribeTimeoutSeconds = 600
	defaultReaperIntervalSeconds    = 30
	defaultRecoveryOnStart          = true
	defaultSubmitWindowMillis       = 60_000
	defaultSubmitMaxInWindow        = 30
	defaultNotifyTimeoutSeconds     = 10
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"

	defaultEnhancePrompt = `You improve raw speech-to-text transcripts.
Return JSON only, shaped as {"summary": string, "title": string, "action_items": [string], "cleaned_transcript": string}.
Do not invent content that is not present in the transcript.`
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind: defaultAPIBind,
		},
		Store: Store{
			Driver:            defaultStoreDriver,
			MaxOpenConns:      defaultStoreMaxOpenConns,
			BusyTimeoutMillis: defaultStoreBusyTimeoutMillis,
			RecoverOnStart:    defaultRecoveryOnStart,
		},
		Deepgram: Deepgram{
			BaseURL:        defaultDeepgramBaseURL,
			Model:          defaultDeepgramModel,
			SmartFormat:    true,
			TimeoutSeconds: defaultDeepgramTimeoutSeconds,
			RetryAttempts:  defaultDeepgramRetryAttempts,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			SystemPrompt:   defaultEnhancePrompt,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RetryAttempts:  defaultLLMRetryAttempts,
		},
		Pipeline: Pipeline{
			TranscribeTimeoutSeconds: defaultTranscribeTimeoutSeconds,
			ReaperIntervalSeconds:    defaultReaperIntervalSeconds,
		},
		RateLimit: RateLimit{
			SubmitWindowMillis: defaultSubmitWindowMillis,
			SubmitMaxInWindow:  defaultSubmitMaxInWindow,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
