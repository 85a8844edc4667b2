package turnnode

import (
	"fmt"
	"strings"

	contractx "github.com/chatcart-ai/chatcart/agent/contract"
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// RecordReply closes the turn's transcript with the agent reply. Tool turns
// were already recorded by the flow engine as calls executed; an empty
// reply is a pipeline defect and must not be persisted as a blank turn.
func RecordReply(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, ErrNilSession
	}

	reply := strings.TrimSpace(in.Outcome.Reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: flow produced an empty reply", contractx.ErrSchemaViolation)
	}

	in.Outcome.Reply = reply
	in.Session.AppendTurn(statex.RoleAgent, reply, nil, in.Now)
	return in, nil
}
