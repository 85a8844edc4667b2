package turnnode

import (
	"context"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
)

// RouteIntent classifies the turn. The router never fails over to an error
// for model trouble, so an error here means the pipeline itself is broken.
func RouteIntent(ctx context.Context, in *GraphState, router contractx.Router) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, ErrNilSession
	}

	decision, err := router.Route(ctx, in.Session, in.Text)
	if err != nil {
		return nil, err
	}

	in.Route = decision
	return in, nil
}
