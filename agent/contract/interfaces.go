package contract

import (
	"context"

	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// Invoker executes one validated tool call against the backend on behalf of
// a session. Implementations never return a raw backend error: every failure
// is folded into the ToolResult with a stable FailureKind.
type Invoker interface {
	Invoke(ctx context.Context, sess *statex.Session, call ToolCallRequest) ToolResult
}

// Router classifies one turn into the intent that should handle it.
// Implementations degrade instead of failing: a broken classifier becomes a
// heuristic decision or a clarifying question, never an error reply.
type Router interface {
	Route(ctx context.Context, sess *statex.Session, text string) (RouteDecision, error)
}

// FlowRunner drives one specialist flow from the routed turn to a reply,
// executing whatever tool calls the flow decides on. Callers hold the
// session lock for the duration of Run.
type FlowRunner interface {
	Run(ctx context.Context, sess *statex.Session, flow string) (FlowOutcome, error)
}
