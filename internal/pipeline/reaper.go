package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"scribe/internal/logging"
)

// Reaper expires pipelines whose transcription callback never arrived.
type Reaper struct {
	coord    *Coordinator
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewReaper creates a reaper. A non-positive timeout disables it.
func NewReaper(coord *Coordinator, logger *slog.Logger, interval, timeout time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		coord:    coord,
		logger:   logging.NewComponentLogger(logger, "pipeline-reaper"),
		interval: interval,
		timeout:  timeout,
	}
}

// Sweep expires every overdue TRANSCRIBING pipeline once and returns how many it expired.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	if r.timeout <= 0 {
		return 0, nil
	}
	states, err := r.coord.List(ctx, Filter{Statuses: []Status{StatusTranscribing}})
	if err != nil {
		return 0, err
	}
	cutoff := r.coord.now().Add(-r.timeout)
	expired := 0
	for _, st := range states {
		if st.TranscribingSince == nil || st.TranscribingSince.After(cutoff) {
			continue
		}
		ok, err := r.coord.Expire(ctx, st.PipelineID, r.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			r.logger.Warn("expire pipeline failed",
				logging.PipelineID(st.PipelineID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "reaper_expire_failed"),
				logging.String(logging.FieldErrorHint, "retried on the next sweep"),
				logging.String(logging.FieldImpact, "pipeline stays TRANSCRIBING"),
			)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 {
		r.logger.Info("expired stale pipelines", logging.Int("count", expired))
	}
	return expired, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					r.logger.Info("daemon shutting down, reaper sweep cancelled")
					return
				}
				r.logger.Warn("reaper sweep failed", logging.Error(err))
			}
		}
	}
}
