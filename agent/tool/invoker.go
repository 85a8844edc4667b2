package tool

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
	"github.com/chatcart-ai/chatcart/pkg/occ"
)

const defaultMutationTimeout = 30 * time.Second

// Invoker validates and executes tool calls. It never returns an error:
// every failure becomes a ToolResult with a stable kind, so the reasoning
// layer always has something it can react to.
type Invoker struct {
	registry        *Registry
	mutationTimeout time.Duration
	logger          zerolog.Logger
}

var _ contractx.Invoker = (*Invoker)(nil)

type InvokerOption func(*Invoker)

// WithMutationTimeout bounds how long a detached mutating call may run
// after the turn context is gone.
func WithMutationTimeout(d time.Duration) InvokerOption {
	return func(iv *Invoker) {
		if d > 0 {
			iv.mutationTimeout = d
		}
	}
}

func NewInvoker(registry *Registry, opts ...InvokerOption) (*Invoker, error) {
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	iv := &Invoker{
		registry:        registry,
		mutationTimeout: defaultMutationTimeout,
		logger:          log.With().Str("component", "tool.invoker").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(iv)
		}
	}
	return iv, nil
}

func (iv *Invoker) Invoke(ctx context.Context, sess *statex.Session, call contractx.ToolCallRequest) contractx.ToolResult {
	result := contractx.ToolResult{Tool: call.Tool, CallID: call.ID}

	spec, ok := iv.registry.Spec(call.Tool)
	if !ok {
		result.Failure = &contractx.Failure{
			Kind:    contractx.KindSchemaValidation,
			Message: (&SchemaValidationError{Tool: call.Tool, Field: "tool", Reason: "is not a registered tool"}).Error(),
		}
		return result
	}

	if verr := validateArgs(call.Tool, spec.Params, call.Args); verr != nil {
		result.Failure = &contractx.Failure{
			Kind:    contractx.KindSchemaValidation,
			Message: verr.Error(),
		}
		return result
	}

	runCtx := ctx
	if spec.Mutating {
		// A mutation already handed to the backend must be allowed to
		// finish and have its outcome recorded even if the turn is
		// cancelled mid-flight; only its own timeout can stop it.
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), iv.mutationTimeout)
		defer cancel()
	}

	payload, err := spec.Run(runCtx, sess, call.Args)
	if err != nil {
		kind := failureKind(err)
		iv.logger.Warn().
			Err(err).
			Str("tool", call.Tool).
			Str("kind", string(kind)).
			Msg("tool call failed")
		result.Failure = &contractx.Failure{Kind: kind, Message: err.Error()}
		return result
	}

	result.Payload = payload
	return result
}

// failureKind maps backend errors onto the stable taxonomy. Timeout is
// checked before RemoteUnavailable because an exhausted retry budget made
// of timeouts should read as a timeout, not a generic upstream failure.
func failureKind(err error) contractx.FailureKind {
	var verr *SchemaValidationError
	switch {
	case errors.As(err, &verr):
		return contractx.KindSchemaValidation
	case errors.Is(err, occ.ErrAmbiguousOutcome):
		return contractx.KindAmbiguousOutcome
	case errors.Is(err, occ.ErrInvalidState), errors.Is(err, statex.ErrNoActiveCart):
		return contractx.KindInvalidState
	case errors.Is(err, occ.ErrNotFound):
		return contractx.KindNotFound
	case errors.Is(err, occ.ErrConflict):
		return contractx.KindConflict
	case errors.Is(err, occ.ErrUnauthorized):
		return contractx.KindUnauthorized
	case occ.IsTimeout(err):
		return contractx.KindTimeout
	default:
		return contractx.KindUpstream
	}
}
