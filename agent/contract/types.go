package contract

// Intent is the routing decision for a single turn.
type Intent string

const (
	IntentDiscovery  Intent = "discovery"
	IntentCartAction Intent = "cart_action"
	IntentCheckout   Intent = "checkout"
	IntentClarify    Intent = "clarify"
)

// Flow names used for per-flow model selection and graph wiring.
const (
	FlowRouter    = "router"
	FlowDiscovery = "discovery"
	FlowCart      = "cart"
	FlowCheckout  = "checkout"
)

// FlowForIntent maps a routed intent to the flow that serves it. Clarify
// has no flow; the coordinator answers the clarifying question directly.
func FlowForIntent(intent Intent) (string, bool) {
	switch intent {
	case IntentDiscovery:
		return FlowDiscovery, true
	case IntentCartAction:
		return FlowCart, true
	case IntentCheckout:
		return FlowCheckout, true
	default:
		return "", false
	}
}

// RouteDecision is the structured output of intent classification.
// Question is only meaningful when Intent is IntentClarify.
type RouteDecision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Question   string  `json:"question,omitempty"`
}

// ToolCallRequest is a single tool invocation requested by the reasoning
// capability. ID is the model-assigned call id, echoed back on the matching
// tool message so the model can correlate results.
type ToolCallRequest struct {
	ID   string         `json:"id,omitempty"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// FailureKind is the stable error vocabulary exposed to the reasoning
// capability. Values are part of the tool contract; renaming one is a
// breaking change.
type FailureKind string

const (
	KindSchemaValidation FailureKind = "SchemaValidation"
	KindNotFound         FailureKind = "NotFound"
	KindUnauthorized     FailureKind = "Unauthorized"
	KindConflict         FailureKind = "Conflict"
	KindUpstream         FailureKind = "Upstream"
	KindTimeout          FailureKind = "Timeout"
	KindInvalidState     FailureKind = "InvalidState"
	KindAmbiguousOutcome FailureKind = "AmbiguousOutcome"
)

// Failure is the structured error arm of a ToolResult. Message is sanitized;
// raw backend bodies never appear here.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ToolResult carries either a success payload or a Failure, never both.
type ToolResult struct {
	Tool    string   `json:"tool"`
	CallID  string   `json:"call_id,omitempty"`
	Payload any      `json:"payload,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool {
	return r.Failure == nil
}

// Decision is the reasoning capability's reply-or-tool-calls sum.
// Exactly one arm is populated; callers must handle both.
type Decision struct {
	Reply     string            `json:"reply,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// IsReply reports whether the decision is the natural-language arm.
func (d Decision) IsReply() bool {
	return len(d.ToolCalls) == 0
}

// ToolExchange pairs one requested call with its result. Order matches the
// order the reasoning capability requested the calls in.
type ToolExchange struct {
	Call   ToolCallRequest `json:"call"`
	Result ToolResult      `json:"result"`
}

// FlowOutcome is what one flow run produced for a turn: the final reply
// and every exchange that led to it.
type FlowOutcome struct {
	Reply     string         `json:"reply"`
	Exchanges []ToolExchange `json:"exchanges,omitempty"`
}

// ProductCandidate is one semantic-discovery hit. Price, Currency, and Stock
// are present only after live backend enrichment. Candidates are ephemeral
// and never persisted across turns except as rendered text in a Turn.
type ProductCandidate struct {
	ProductID  string  `json:"product_id"`
	Name       string  `json:"name"`
	Summary    string  `json:"summary,omitempty"`
	Similarity float64 `json:"similarity"`
	Price      float64 `json:"price,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Stock      int     `json:"stock,omitempty"`
}
