package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/services/deepgram"
	"scribe/internal/services/llm"
	"scribe/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the scribe daemon and blocks until the context is cancelled or
// the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.ValidateProviders(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		FilePath:    cfg.LogFilePath(),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldSessionID, uuid.NewString()))

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	backend, err := store.Open(cfg)
	if err != nil {
		logger.Error("open keyed store", logging.Error(err), logging.String("driver", cfg.Store.Driver))
		return err
	}

	transcriber := deepgram.NewClient(deepgram.Config{
		APIKey:         cfg.Deepgram.APIKey,
		BaseURL:        cfg.Deepgram.BaseURL,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		SmartFormat:    cfg.Deepgram.SmartFormat,
		TimeoutSeconds: cfg.Deepgram.TimeoutSeconds,
		RetryAttempts:  cfg.Deepgram.RetryAttempts,
	})
	enhancer := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		SystemPrompt:   cfg.LLM.SystemPrompt,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		RetryAttempts:  cfg.LLM.RetryAttempts,
	})

	d, err := daemon.New(cfg, daemon.Deps{
		Backend:     backend,
		Transcriber: transcriber,
		Enhancer:    enhancer,
		Notifier:    notifications.NewService(cfg),
		Logger:      logger,
	})
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	logProviderSnapshot(logger, cfg, backend.Driver())

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file and bind address"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("scribe daemon shutting down")
	return nil
}

// PIDPath returns the pid file written while the daemon runs.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "scribed.pid")
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logProviderSnapshot(logger *slog.Logger, cfg *config.Config, driver string) {
	logger.Info("provider snapshot",
		logging.String(logging.FieldEventType, "provider_snapshot"),
		logging.String("store_driver", driver),
		logging.String("deepgram_model", cfg.Deepgram.Model),
		logging.String("llm_model", cfg.LLM.Model),
		logging.String("callback_base", cfg.CallbackBaseURL()),
		logging.Bool("api_token_set", strings.TrimSpace(cfg.Server.APIToken) != ""),
		logging.Int("submit_quota", cfg.RateLimit.SubmitMaxInWindow),
		logging.Bool("notifications_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
