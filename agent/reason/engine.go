// Package reason owns every call to the language model: intent
// classification for the router and reply-or-tool-call decisions for the
// flows. Everything above it works with structured values, never raw model
// output.
package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	llmx "github.com/chatcart-ai/chatcart/agent/llm"
)

// FlowModel describes one reasoning persona: the flow it serves, its system
// prompt, and the tools it may request.
type FlowModel struct {
	Flow         string
	SystemPrompt string
	Tools        []*schema.ToolInfo
}

type flowBinding struct {
	spec  FlowModel
	model einomodel.ToolCallingChatModel
}

type routeLLMOutput struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Question   string  `json:"question,omitempty"`
}

var validIntents = map[contractx.Intent]struct{}{
	contractx.IntentDiscovery:  {},
	contractx.IntentCartAction: {},
	contractx.IntentCheckout:   {},
	contractx.IntentClarify:    {},
}

// Engine wraps the compiled model graphs. Compile once at start-up, invoke
// per turn.
type Engine struct {
	classifier compose.Runnable[map[string]any, routeLLMOutput]
	deciders   map[string]compose.Runnable[[]*schema.Message, *schema.Message]
	allowed    map[string]map[string]struct{}
	prompts    map[string]string
	logger     zerolog.Logger
}

// NewEngine builds one model per flow from cfg and compiles the graphs.
func NewEngine(ctx context.Context, cfg llmx.Config, routerPrompt string, flows []FlowModel) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	routerModelCfg := cfg.OpenRouterFor(contractx.FlowRouter)
	routerModel, err := routerModelCfg.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create router model: %v", contractx.ErrModelInvoke, err)
	}

	bindings := make([]flowBinding, 0, len(flows))
	for _, fm := range flows {
		flowModelCfg := cfg.OpenRouterFor(fm.Flow)
		flowModel, err := flowModelCfg.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: create model for flow=%s: %v", contractx.ErrModelInvoke, fm.Flow, err)
		}
		bindings = append(bindings, flowBinding{spec: fm, model: flowModel})
	}

	return newEngine(ctx, routerModel, routerPrompt, bindings)
}

func newEngine(
	ctx context.Context,
	routerModel einomodel.BaseChatModel,
	routerPrompt string,
	bindings []flowBinding,
) (*Engine, error) {
	if strings.TrimSpace(routerPrompt) == "" {
		return nil, fmt.Errorf("%w: router prompt", contractx.ErrPromptMissing)
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("%w: at least one flow model is required", contractx.ErrValidation)
	}

	classifier, err := compileClassifierGraph(ctx, routerModel, routerPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	eng := &Engine{
		classifier: classifier,
		deciders:   make(map[string]compose.Runnable[[]*schema.Message, *schema.Message], len(bindings)),
		allowed:    make(map[string]map[string]struct{}, len(bindings)),
		prompts:    make(map[string]string, len(bindings)),
		logger:     log.With().Str("component", "reason.engine").Logger(),
	}
	for _, b := range bindings {
		if err := eng.addDecider(ctx, b.spec, b.model); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (e *Engine) addDecider(ctx context.Context, fm FlowModel, chatModel einomodel.ToolCallingChatModel) error {
	if strings.TrimSpace(fm.Flow) == "" {
		return fmt.Errorf("%w: flow name is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(fm.SystemPrompt) == "" {
		return fmt.Errorf("%w: prompt for flow=%s", contractx.ErrPromptMissing, fm.Flow)
	}
	if _, dup := e.deciders[fm.Flow]; dup {
		return fmt.Errorf("%w: duplicate flow=%s", contractx.ErrValidation, fm.Flow)
	}

	var boundModel einomodel.BaseChatModel = chatModel
	if len(fm.Tools) > 0 {
		withTools, err := chatModel.WithTools(fm.Tools)
		if err != nil {
			return fmt.Errorf("%w: bind tools for flow=%s: %v", contractx.ErrModelInvoke, fm.Flow, err)
		}
		boundModel = withTools
	}

	decider, err := compileDeciderGraph(ctx, boundModel, fm.Flow)
	if err != nil {
		return fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	allowed := make(map[string]struct{}, len(fm.Tools))
	for _, t := range fm.Tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		allowed[t.Name] = struct{}{}
	}

	e.deciders[fm.Flow] = decider
	e.allowed[fm.Flow] = allowed
	e.prompts[fm.Flow] = strings.TrimSpace(fm.SystemPrompt)
	return nil
}

// Classify runs the routing model over the turn payload and returns a
// validated decision.
func (e *Engine) Classify(ctx context.Context, payload map[string]any) (contractx.RouteDecision, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return contractx.RouteDecision{}, fmt.Errorf("%w: marshal routing payload: %v", contractx.ErrValidation, err)
	}

	out, err := e.classifier.Invoke(ctx, map[string]any{"input": string(input)})
	if err != nil {
		return contractx.RouteDecision{}, fmt.Errorf("%w: classify: %v", contractx.ErrModelInvoke, err)
	}

	intent := contractx.Intent(strings.TrimSpace(strings.ToLower(out.Intent)))
	if _, ok := validIntents[intent]; !ok {
		return contractx.RouteDecision{}, fmt.Errorf("%w: unknown intent %q", contractx.ErrSchemaViolation, out.Intent)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return contractx.RouteDecision{}, fmt.Errorf("%w: confidence %v out of range", contractx.ErrSchemaViolation, out.Confidence)
	}

	return contractx.RouteDecision{
		Intent:     intent,
		Confidence: out.Confidence,
		Question:   strings.TrimSpace(out.Question),
	}, nil
}

// Decide asks a flow's model for the next step given the conversation so
// far. The flow's system prompt is prepended here; callers pass only the
// conversation messages. The answer is either a user-facing reply or a set
// of tool calls.
func (e *Engine) Decide(ctx context.Context, flow string, messages []*schema.Message) (contractx.Decision, error) {
	decider, ok := e.deciders[flow]
	if !ok {
		return contractx.Decision{}, fmt.Errorf("%w: unknown flow %q", contractx.ErrValidation, flow)
	}

	msgs := make([]*schema.Message, 0, len(messages)+1)
	msgs = append(msgs, schema.SystemMessage(e.prompts[flow]))
	msgs = append(msgs, messages...)

	msg, err := decider.Invoke(ctx, msgs)
	if err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: decide flow=%s: %v", contractx.ErrModelInvoke, flow, err)
	}
	if msg == nil {
		return contractx.Decision{}, fmt.Errorf("%w: empty decision for flow=%s", contractx.ErrSchemaViolation, flow)
	}

	if len(msg.ToolCalls) > 0 {
		calls, err := e.toToolCallRequests(flow, msg.ToolCalls)
		if err != nil {
			return contractx.Decision{}, err
		}
		return contractx.Decision{ToolCalls: calls}, nil
	}

	reply := strings.TrimSpace(msg.Content)
	if reply == "" {
		return contractx.Decision{}, fmt.Errorf("%w: decision has neither reply nor tool calls", contractx.ErrSchemaViolation)
	}
	return contractx.Decision{Reply: reply}, nil
}

func (e *Engine) toToolCallRequests(flow string, calls []schema.ToolCall) ([]contractx.ToolCallRequest, error) {
	reqs := make([]contractx.ToolCallRequest, 0, len(calls))
	for _, call := range calls {
		tool := strings.TrimSpace(call.Function.Name)
		if tool == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}
		if _, ok := e.allowed[flow][tool]; !ok {
			return nil, fmt.Errorf("%w: tool=%s is not allowed for flow=%s", contractx.ErrSchemaViolation, tool, flow)
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid args for tool=%s: %v", contractx.ErrSchemaViolation, tool, err)
			}
		}

		reqs = append(reqs, contractx.ToolCallRequest{
			ID:   strings.TrimSpace(call.ID),
			Tool: tool,
			Args: args,
		})
	}
	return reqs, nil
}
