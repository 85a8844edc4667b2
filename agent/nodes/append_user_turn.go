package turnnode

import (
	statex "github.com/chatcart-ai/chatcart/agent/state"
)

// AppendUserTurn records the incoming message before anything can fail, so
// a turn that dies downstream is still visible in the transcript.
func AppendUserTurn(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, ErrNilSession
	}

	in.Session.AppendTurn(statex.RoleUser, in.Text, nil, in.Now)
	return in, nil
}
