package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
)

// Outcome is the routing decision for a delivery.
type Outcome string

const (
	// OutcomeDelivered means the coordinator accepted the callback.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeDropped means the callback was for an unknown pipeline.
	OutcomeDropped Outcome = "dropped"
	// OutcomeRejected means the request itself was invalid.
	OutcomeRejected Outcome = "rejected"
)

// Delivery is one inbound provider callback.
type Delivery struct {
	Provider   string
	PipelineID string
	Token      string
	Body       []byte
}

// Target receives validated callbacks.
type Target interface {
	OnDeepgramResult(ctx context.Context, pipelineID string, cb pipeline.Callback) error
}

// AsyncTarget journals callbacks and processes them in the background.
type AsyncTarget interface {
	DeliverAsync(ctx context.Context, pipelineID string, cb pipeline.Callback) error
}

type deferred struct {
	target AsyncTarget
}

func (d deferred) OnDeepgramResult(ctx context.Context, pipelineID string, cb pipeline.Callback) error {
	return d.target.DeliverAsync(ctx, pipelineID, cb)
}

// Deferred adapts an AsyncTarget so Route returns once the callback is journaled.
func Deferred(target AsyncTarget) Target {
	return deferred{target: target}
}

// Router validates provider callbacks and hands them to the coordinator.
type Router struct {
	target Target
	logger *slog.Logger
}

// NewRouter constructs a router.
func NewRouter(target Target, logger *slog.Logger) *Router {
	return &Router{target: target, logger: logging.NewComponentLogger(logger, "callback")}
}

// Route dispatches d. Infrastructure failures return a zero Outcome with the
// error so the provider retries.
func (r *Router) Route(ctx context.Context, d Delivery) (Outcome, error) {
	provider := strings.ToLower(strings.TrimSpace(d.Provider))
	pipelineID := strings.TrimSpace(d.PipelineID)
	token := strings.TrimSpace(d.Token)
	logger := r.logger.With(
		logging.String(logging.FieldProvider, provider),
		logging.PipelineID(pipelineID),
	)

	if provider != "deepgram" {
		return OutcomeRejected, services.Wrap(services.ErrValidation, "callback", "route", fmt.Sprintf("unsupported provider %q", d.Provider), nil)
	}
	if pipelineID == "" || token == "" {
		return OutcomeRejected, services.Wrap(services.ErrValidation, "callback", "route", "pipeline id and token are required", nil)
	}

	body, err := decode(d.Body)
	if err == nil {
		err = bodySchema.Validate(body)
	}
	if err != nil {
		logging.WarnWithContext(logger, "rejecting callback body", "malformed_callback",
			logging.Int("payload_bytes", len(d.Body)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "callback not delivered"),
			logging.String(logging.FieldErrorHint, "provider must post a JSON object"),
		)
		return OutcomeRejected, services.Wrap(services.ErrValidation, "callback", "route", "callback body must be a JSON object", err)
	}
	if err := shapeSchema.Validate(body); err != nil {
		logging.WarnWithContext(logger, "callback body matches no transcript shape", "malformed_callback",
			logging.Int("payload_bytes", len(d.Body)),
			logging.String(logging.FieldImpact, "pipeline continues with an empty transcript"),
			logging.String(logging.FieldErrorHint, "inspect the stored rawResult"),
		)
	}

	err = r.target.OnDeepgramResult(ctx, pipelineID, pipeline.Callback{RequestID: token, Payload: d.Body})
	switch {
	case err == nil:
		logger.Debug("callback delivered")
		return OutcomeDelivered, nil
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		logging.WarnWithContext(logger, "dropping callback for unknown pipeline", "unknown_pipeline",
			logging.String(logging.FieldImpact, "callback discarded"),
			logging.String(logging.FieldErrorHint, "pipeline id in the callback URL does not exist"),
		)
		return OutcomeDropped, nil
	case errors.Is(err, services.ErrValidation):
		return OutcomeRejected, err
	default:
		return "", err
	}
}
