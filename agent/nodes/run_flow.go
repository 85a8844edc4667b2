package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
)

// RunFlow drives the routed flow to a reply. Clarify short-circuits: the
// clarifying question becomes the reply and no tools run.
func RunFlow(ctx context.Context, in *GraphState, runner contractx.FlowRunner) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, ErrNilSession
	}

	if in.Route.Intent == contractx.IntentClarify {
		in.Outcome = contractx.FlowOutcome{Reply: in.Route.Question}
		return in, nil
	}

	flow, ok := contractx.FlowForIntent(in.Route.Intent)
	if !ok {
		return nil, fmt.Errorf("%w: no flow for intent %q", contractx.ErrValidation, in.Route.Intent)
	}
	in.Flow = flow

	outcome, err := runner.Run(ctx, in.Session, flow)
	if err != nil {
		return nil, err
	}

	in.Outcome = outcome
	return in, nil
}
