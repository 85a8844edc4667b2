// Package flow drives a routed turn to a user-facing reply. Every intent
// shares one engine: a bounded decide-execute loop over the reasoning
// capability and the tool invoker. Flows differ only in the prompt and tool
// subset bound to their model, never in control flow.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// Phase tracks where a run sits in the loop. Transitions:
// AwaitingInput -> {ToolRequested | ReplyReady}
// ToolRequested -> ToolExecuted
// ToolExecuted  -> {ToolRequested | ReplyReady}
type Phase string

const (
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseToolRequested Phase = "tool_requested"
	PhaseToolExecuted  Phase = "tool_executed"
	PhaseReplyReady    Phase = "reply_ready"
)

// FallbackReply is sent when the iteration ceiling is hit before the model
// settles on an answer.
const FallbackReply = "unable to complete, please rephrase"

const (
	defaultMaxToolIterations = 6
	defaultHistoryWindow     = 6
)

type Config struct {
	MaxToolIterations int `envconfig:"MAX_TOOL_ITERATIONS" split_words:"true" default:"6"`
	HistoryWindow     int `envconfig:"HISTORY_WINDOW" split_words:"true" default:"6"`
}

// Decider is the slice of the reasoning engine the loop depends on.
type Decider interface {
	Decide(ctx context.Context, flow string, messages []*schema.Message) (contractx.Decision, error)
}

type Engine struct {
	decider Decider
	invoker contractx.Invoker
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
}

var _ contractx.FlowRunner = (*Engine)(nil)

type Option func(*Engine)

// WithClock overrides the tool turn timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(cfg Config, decider Decider, invoker contractx.Invoker, opts ...Option) (*Engine, error) {
	if decider == nil {
		return nil, errors.New("decider is required")
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaultMaxToolIterations
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}

	e := &Engine{
		decider: decider,
		invoker: invoker,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.With().Str("component", "flow.engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run drives one turn through the loop until the model replies or the
// iteration ceiling is hit. The session's newest turn is the user message
// being answered; executed calls are recorded as tool turns on the session
// as they happen, so a run that dies mid-loop still leaves its trail.
// Callers hold the session lock.
func (e *Engine) Run(ctx context.Context, sess *statex.Session, flow string) (contractx.FlowOutcome, error) {
	if sess == nil {
		return contractx.FlowOutcome{}, errors.New("session is required")
	}

	var (
		outcome  contractx.FlowOutcome
		pending  []contractx.ToolCallRequest
		messages = historyMessages(sess, e.cfg.HistoryWindow)
		phase    = PhaseAwaitingInput
		rounds   = 0
	)

	for {
		switch phase {
		case PhaseAwaitingInput, PhaseToolExecuted:
			if rounds >= e.cfg.MaxToolIterations {
				e.logger.Warn().
					Str("session_id", sess.ID).
					Str("flow", flow).
					Int("rounds", rounds).
					Msg("iteration ceiling hit, sending fallback reply")
				outcome.Reply = FallbackReply
				return outcome, nil
			}
			rounds++

			decision, err := e.decider.Decide(ctx, flow, messages)
			if err != nil {
				return contractx.FlowOutcome{}, err
			}
			if decision.IsReply() {
				outcome.Reply = decision.Reply
				phase = PhaseReplyReady
				continue
			}
			pending = decision.ToolCalls
			phase = PhaseToolRequested

		case PhaseToolRequested:
			results := e.executeStep(ctx, sess, pending)
			messages = append(messages, schema.AssistantMessage("", toSchemaCalls(pending)))
			for i, call := range pending {
				outcome.Exchanges = append(outcome.Exchanges, contractx.ToolExchange{Call: call, Result: results[i]})
				messages = append(messages, schema.ToolMessage(renderResult(results[i]), call.ID))
			}
			pending = nil
			phase = PhaseToolExecuted

		case PhaseReplyReady:
			e.logger.Debug().
				Str("session_id", sess.ID).
				Str("flow", flow).
				Int("rounds", rounds).
				Int("exchanges", len(outcome.Exchanges)).
				Msg("flow settled on a reply")
			return outcome, nil
		}
	}
}

// executeStep runs one reasoning step's calls sequentially in request
// order; cart mutations must not race each other. A call that repeats an
// earlier call in the same step (same tool, same arguments) is executed
// once and the result is shared across call ids.
func (e *Engine) executeStep(ctx context.Context, sess *statex.Session, calls []contractx.ToolCallRequest) []contractx.ToolResult {
	results := make([]contractx.ToolResult, len(calls))
	seen := make(map[string]int, len(calls))

	for i, call := range calls {
		key := dedupKey(call)
		if first, dup := seen[key]; dup {
			shared := results[first]
			shared.CallID = call.ID
			results[i] = shared
			e.logger.Debug().
				Str("session_id", sess.ID).
				Str("tool", call.Tool).
				Msg("duplicate call within one step, sharing result")
			continue
		}
		seen[key] = i

		res := e.invoker.Invoke(ctx, sess, call)
		results[i] = res
		e.recordToolTurn(sess, call, res)
	}
	return results
}

// recordToolTurn writes the audit record for one executed call. Shared
// duplicate results are not re-recorded; the transcript mirrors executions,
// not requests.
func (e *Engine) recordToolTurn(sess *statex.Session, call contractx.ToolCallRequest, res contractx.ToolResult) {
	rec := &statex.ToolRecord{Name: call.Tool, Args: call.Args}
	if res.Failure != nil {
		rec.Kind = string(res.Failure.Kind)
	}
	sess.AppendTurn(statex.RoleTool, renderResult(res), rec, e.now())
}

// historyMessages converts recent turns into the model conversation. Tool
// turns are audit records; replaying them without their assistant pairing
// would break the tool message protocol, so only user and agent turns
// survive. The newest user turn is the message being answered.
func historyMessages(sess *statex.Session, window int) []*schema.Message {
	turns := sess.LastTurns(window)
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case statex.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case statex.RoleAgent:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}

func toSchemaCalls(calls []contractx.ToolCallRequest) []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, schema.ToolCall{
			ID:   c.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      c.Tool,
				Arguments: marshalArgs(c.Args),
			},
		})
	}
	return out
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// dedupKey canonicalizes a call for within-step duplicate detection.
// json.Marshal sorts map keys, so equal argument maps produce equal keys.
func dedupKey(call contractx.ToolCallRequest) string {
	args, err := json.Marshal(call.Args)
	if err != nil {
		return call.Tool + "\x00" + call.ID
	}
	return call.Tool + "\x00" + string(args)
}

// renderResult is what the model and the transcript see for one executed
// call: the payload on success, the structured failure otherwise. The
// invoker already sanitized both; raw backend bodies never appear here.
func renderResult(res contractx.ToolResult) string {
	if res.OK() {
		b, err := json.Marshal(res.Payload)
		if err != nil {
			return `{"error":"unrenderable payload"}`
		}
		if string(b) == "null" {
			return `{"ok":true}`
		}
		return string(b)
	}
	b, err := json.Marshal(res.Failure)
	if err != nil {
		return `{"kind":"Upstream","message":"unrenderable failure"}`
	}
	return string(b)
}
