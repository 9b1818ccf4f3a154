package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/callback"
	"scribe/internal/config"
	"scribe/internal/keyed"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/ratelimit"
)

// Deps are the collaborators a daemon is assembled from.
type Deps struct {
	Backend     keyed.Backend
	Transcriber pipeline.Transcriber
	Enhancer    pipeline.Enhancer
	// Notifier is optional.
	Notifier pipeline.Notifier
	Logger   *slog.Logger
	// Now overrides the clock used by the coordinator and limiter.
	Now func() time.Time
}

// Daemon hosts the pipeline coordinator, rate limiter and HTTP ingress and
// enforces a single instance per data directory.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend keyed.Backend

	runtime *keyed.Runtime
	coord   *pipeline.Coordinator
	limiter *ratelimit.Limiter
	router  *callback.Router
	reaper  *pipeline.Reaper
	server  *apiServer

	lockPath string
	lock     *flock.Flock

	startedAt time.Time
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running   bool
	Address   string
	LockPath  string
	StartedAt time.Time
}

// New wires the daemon. It does not acquire the lock or listen.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Backend == nil || deps.Transcriber == nil || deps.Enhancer == nil {
		return nil, errors.New("daemon requires config, backend, transcriber and enhancer")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	rt := keyed.New(deps.Backend, keyed.WithLogger(logger), keyed.WithClock(deps.Now))
	coord := pipeline.New(rt, deps.Transcriber, deps.Enhancer, cfg.CallbackBaseURL(),
		pipeline.WithLogger(logger),
		pipeline.WithClock(deps.Now),
		pipeline.WithNotifier(deps.Notifier),
	)
	limiter := ratelimit.New(rt, ratelimit.WithLogger(logger), ratelimit.WithClock(deps.Now))

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		backend:  deps.Backend,
		runtime:  rt,
		coord:    coord,
		limiter:  limiter,
		router:   callback.NewRouter(callback.Deferred(coord), logger),
		reaper:   pipeline.NewReaper(coord, logger, seconds(cfg.Pipeline.ReaperIntervalSeconds), seconds(cfg.Pipeline.TranscribeTimeoutSeconds)),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.server = newAPIServer(cfg, d, logger)
	return d, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Start acquires the instance lock, redelivers journaled invocations, then
// starts the reaper and HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.cfg.Store.RecoverOnStart {
		if _, err := d.runtime.Recover(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "journal recovery failed", "journal_recovery_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "interrupted invocations were not redelivered"),
				logging.String(logging.FieldErrorHint, "check store connectivity and restart the daemon"),
			)
		}
	}

	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reaper.Run(runCtx)
	}()

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.address()),
		logging.String("callback_base", d.cfg.CallbackBaseURL()),
	)
	return nil
}

// Stop shuts down the server, waits for background invocations and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.runtime.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped")
}

// Close stops the daemon and closes the backend.
func (d *Daemon) Close() error {
	d.Stop()
	return d.backend.Close()
}

// Handler exposes the HTTP ingress.
func (d *Daemon) Handler() http.Handler {
	return d.server.engine
}

// Coordinator exposes the pipeline coordinator.
func (d *Daemon) Coordinator() *pipeline.Coordinator {
	return d.coord
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:   d.running.Load(),
		Address:   d.server.address(),
		LockPath:  d.lockPath,
		StartedAt: d.startedAt,
	}
}
