package contract

import "errors"

// Sentinel errors shared across the agent layers. Wrap with %w and match
// with errors.Is; the coordinator decides which of them a shopper ever sees.
var (
	// ErrModelInvoke covers reasoning calls that produced no usable output:
	// model construction, transport, or provider failures.
	ErrModelInvoke = errors.New("model invoke failed")

	// ErrSchemaViolation covers output the model did produce but the
	// pipeline cannot accept: unknown intents, tools outside the flow's
	// allowance, malformed arguments, empty replies.
	ErrSchemaViolation = errors.New("model response violates schema")

	// ErrPromptMissing fails construction when a flow has no system prompt.
	ErrPromptMissing = errors.New("required prompt is missing")

	ErrValidation = errors.New("validation failed")
)
